package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
)

func TestBindingSet(t *testing.T) {
	s := newBindingSet()
	assert.False(t, s.matches("test.topic"), "empty set matches nothing")
	s.add("test.topic")
	assert.True(t, s.matches("test.topic"))
	assert.False(t, s.matches("test.topic_two"))

	s.add("test.topic", "test.*")
	assert.True(t, s.matches("test.topic_two"))
	assert.Equal(t, []string{"test.*", "test.topic"}, s.patterns())
}

func TestToHeaders(t *testing.T) {
	assert.Nil(t, toHeaders(nil))
	got := toHeaders(map[string]string{"routing-key": "test.topic", "message-id": "1"})
	assert.Equal(t, []kafka.Header{
		{Key: "message-id", Value: []byte("1")},
		{Key: "routing-key", Value: []byte("test.topic")},
	}, got)
}

func TestDelivery(t *testing.T) {
	d := &delivery{raw: kafka.Message{
		Topic: "test_exchange",
		Key:   []byte("fallback"),
		Value: []byte("hello"),
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte("test.topic")},
			{Key: headerMessageID, Value: []byte("abc")},
		},
	}}
	assert.Equal(t, "test_exchange", d.Exchange())
	assert.Equal(t, "test.topic", d.RoutingKey())
	assert.Equal(t, []byte("hello"), d.Body())
	assert.False(t, d.Redelivered())
	assert.Equal(t, "abc", d.Headers()["message-id"])
	assert.NoError(t, d.Nack(true), "requeue leaves the offset uncommitted")

	keyOnly := kafka.Message{Key: []byte("test.topic_two")}
	assert.Equal(t, "test.topic_two", routingKeyOf(keyOnly))
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrConnection)
}

func TestClose_Twice(t *testing.T) {
	b, err := New(context.Background(), []string{DefaultAddress}, WithCreateTopics(false))
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	assert.ErrorIs(t, b.Close(context.Background()), core.ErrBusClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), "test_exchange", "test.topic", nil), core.ErrBusClosed)
}

func TestOptsFromConfig(t *testing.T) {
	cfg := broker.DefaultConfig()
	cfg.Exchanges = []string{"test_exchange"}
	cfg.Extra = map[string]any{"create_topics": false, "partitions": 3, "replication_factor": 2}

	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	assert.Equal(t, []string{"test_exchange"}, o.exchanges)
	assert.False(t, o.createTopics)
	assert.Equal(t, 3, o.numPartitions)
	assert.Equal(t, 2, o.replicationFactor)
}
