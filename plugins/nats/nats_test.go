package nats

import (
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/broker"
)

func TestFilterSubjects(t *testing.T) {
	got, err := filterSubjects("test_exchange", []string{"test.topic", "test.*", "test.#"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"test_exchange.test.topic",
		"test_exchange.test.*",
		"test_exchange.test.>",
	}, got)

	_, err = filterSubjects("test_exchange", []string{"#.topic"})
	assert.Error(t, err)

	_, err = filterSubjects("test_exchange", nil)
	assert.Error(t, err)
}

func TestMergeFilters(t *testing.T) {
	existing := jetstream.ConsumerConfig{
		FilterSubjects: []string{"ex.test.topic", "ex.test.topic_two"},
	}
	got := mergeFilters(existing, []string{"ex.test.topic", "ex.other"})
	assert.Equal(t, []string{"ex.other", "ex.test.topic", "ex.test.topic_two"}, got)

	legacy := jetstream.ConsumerConfig{FilterSubject: "ex.a"}
	assert.Equal(t, []string{"ex.a", "ex.b"}, mergeFilters(legacy, []string{"ex.b"}))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "test_exchange", streamName("test_exchange"))
	assert.Equal(t, "a-b-c", streamName("a.b*c"))
	assert.Equal(t, "test_queue", consumerName("test_queue"))
	assert.Equal(t, "test_exchange.test.topic", subject("test_exchange", "test.topic"))
}

func TestOptsFromConfig(t *testing.T) {
	cfg := broker.DefaultConfig()
	cfg.Exchanges = []string{"test_exchange"}
	cfg.Extra = map[string]any{"max_deliver": 3, "replicas": 3, "memory_storage": true}

	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	assert.Equal(t, []string{"test_exchange"}, o.exchanges)
	assert.Equal(t, 3, o.maxDeliver)
	assert.Equal(t, 3, o.replicas)
	assert.Equal(t, jetstream.MemoryStorage, o.storage)
	assert.Equal(t, broker.DefaultPrefetchCount, o.prefetchCount)
}

func TestStreamConfig(t *testing.T) {
	b := &Bus{opts: defaults()}
	sc := b.streamConfig("test_exchange")
	assert.Equal(t, "test_exchange", sc.Name)
	assert.Equal(t, []string{"test_exchange.>"}, sc.Subjects)
	assert.Equal(t, jetstream.FileStorage, sc.Storage)
}
