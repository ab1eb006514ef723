package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func TestRoutingKeyRoundTrip(t *testing.T) {
	for _, k := range RoutingKeys() {
		got, err := ParseRoutingKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestWireNames(t *testing.T) {
	assert.Equal(t, "test_exchange", TestExchange.String())
	assert.Equal(t, "test_queue", TestQueue.String())
	assert.Equal(t, "test.topic", TestTopic.String())
	assert.Equal(t, "test.topic_two", TestTopicTwo.String())

	assert.Equal(t, []string{"test_exchange"}, ExchangeNames())
	assert.Equal(t, []string{"test_queue"}, QueueNames())
	assert.Equal(t, []string{"test.topic", "test.topic_two"}, RoutingKeyNames())
	assert.Equal(t, []RoutingKey{TestTopic, TestTopicTwo}, RoutingKeys())
}

func TestParseUnknown(t *testing.T) {
	tests := []struct {
		name  string
		parse func(string) error
	}{
		{"routing key", func(s string) error { _, err := ParseRoutingKey(s); return err }},
		{"exchange", func(s string) error { _, err := ParseExchange(s); return err }},
		{"queue", func(s string) error { _, err := ParseQueue(s); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range []string{"test.unknown", "", "TEST.TOPIC", "test.topic "} {
				err := tt.parse(s)
				require.Error(t, err, "%q must not decode", s)
				assert.ErrorIs(t, err, core.ErrDecoding)

				var de *DecodingError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, tt.name, de.Kind)
				assert.Equal(t, s, de.Value)
			}
		})
	}
}

func TestValidateRoutingKey(t *testing.T) {
	assert.NoError(t, ValidateRoutingKey("test.topic"))
	assert.ErrorIs(t, ValidateRoutingKey("test.unknown"), core.ErrDecoding)
}

func TestAccessorsReturnCopies(t *testing.T) {
	keys := RoutingKeys()
	keys[0] = RoutingKey(99)
	assert.Equal(t, TestTopic, RoutingKeys()[0])

	assert.Equal(t, "routing key(99)", RoutingKey(99).String())
}

func TestParseKnown(t *testing.T) {
	ex, err := ParseExchange("test_exchange")
	require.NoError(t, err)
	assert.Equal(t, TestExchange, ex)

	q, err := ParseQueue("test_queue")
	require.NoError(t, err)
	assert.Equal(t, TestQueue, q)
	assert.Equal(t, []Queue{TestQueue}, Queues())
	assert.Equal(t, []Exchange{TestExchange}, Exchanges())
}
