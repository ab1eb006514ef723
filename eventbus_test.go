package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus"
	"github.com/miladsoleymani/eventbus/broker"
	"github.com/miladsoleymani/eventbus/core"
	"github.com/miladsoleymani/eventbus/internal/mock"
	"github.com/miladsoleymani/eventbus/plugins/memory"
	"github.com/miladsoleymani/eventbus/topology"
)

func openMemory(t *testing.T) *eventbus.MessageBroker {
	t.Helper()
	cfg := broker.DefaultConfig()
	cfg.Transport = "memory"
	mb, err := eventbus.Open(context.Background(), cfg)
	require.NoError(t, err)
	return mb
}

func TestPublishListen_RoundTrip(t *testing.T) {
	mb := openMemory(t)
	defer mb.Close(context.Background())

	got := make(chan string, 1)
	mb.Handle(topology.TestTopic, func(c core.Context) error {
		got <- c.Text()
		return nil
	})

	ctx := context.Background()
	_, err := mb.Listen(ctx, topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
	require.NoError(t, err)
	require.NoError(t, mb.Publish(ctx, topology.TestExchange, topology.TestTopic, []byte("hello")))

	select {
	case text := <-got:
		assert.Equal(t, "hello", text)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	mem, ok := mb.Bus().(*memory.Bus)
	require.True(t, ok)
	assert.Equal(t, []string{"test_exchange/test.topic", "test_exchange/test.topic_two"}, mem.Bindings("test_queue"))
	assert.Equal(t, 0, mem.Pending("test_queue"))
}

func TestListen_TwiceCompetes(t *testing.T) {
	mb := openMemory(t)
	defer mb.Close(context.Background())

	ctx := context.Background()
	keys := []topology.RoutingKey{topology.TestTopic}
	first, err := mb.Listen(ctx, topology.TestQueue, topology.TestExchange, keys)
	require.NoError(t, err)
	second, err := mb.Listen(ctx, topology.TestQueue, topology.TestExchange, keys)
	require.NoError(t, err)
	assert.NotEqual(t, first.Consumer(), second.Consumer())
}

func TestListen_WireNames(t *testing.T) {
	bus := mock.NewBus()
	mb := eventbus.New(bus)

	_, err := mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange,
		[]topology.RoutingKey{topology.TestTopic, topology.TestTopicTwo})
	require.NoError(t, err)
	require.NoError(t, mb.Publish(context.Background(), topology.TestExchange, topology.TestTopicTwo, []byte("x")))

	assert.Equal(t, []mock.Listen{{
		Queue:       "test_queue",
		Exchange:    "test_exchange",
		RoutingKeys: []string{"test.topic", "test.topic_two"},
	}}, bus.Listens())
	assert.Equal(t, []mock.Published{{
		Exchange:   "test_exchange",
		RoutingKey: "test.topic_two",
		Payload:    []byte("x"),
	}}, bus.Published())
	assert.Equal(t, 1, bus.ActiveSubscriptions())
	assert.False(t, bus.IsClosed())

	require.NoError(t, mb.Close(context.Background()))
	assert.True(t, bus.IsClosed())
	assert.Zero(t, bus.ActiveSubscriptions())
}

func TestDispatch_UnknownKeyIsRejected(t *testing.T) {
	bus := mock.NewBus()
	mb := eventbus.New(bus)
	defer mb.Close(context.Background())

	var handled []string
	mb.Handle(topology.TestTopic, func(c core.Context) error {
		handled = append(handled, c.Text())
		return nil
	})
	_, err := mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
	require.NoError(t, err)

	unknown := &mock.Delivery{Ex: "test_exchange", Key: "test.unknown", Payload: []byte("?")}
	err = bus.Deliver(context.Background(), "test_queue", unknown)
	assert.ErrorIs(t, err, core.ErrDecoding)
	n, requeue := unknown.Nacked()
	assert.Equal(t, 1, n)
	assert.False(t, requeue)
	assert.Zero(t, unknown.Acked())

	valid := &mock.Delivery{Ex: "test_exchange", Key: "test.topic", Payload: []byte("hello")}
	require.NoError(t, bus.Deliver(context.Background(), "test_queue", valid))
	assert.Equal(t, 1, valid.Acked())
	assert.Equal(t, []string{"hello"}, handled)
}

func TestDispatch_UnhandledKnownKeyIsAcked(t *testing.T) {
	bus := mock.NewBus()
	mb := eventbus.New(bus)
	defer mb.Close(context.Background())

	_, err := mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
	require.NoError(t, err)

	d := &mock.Delivery{Ex: "test_exchange", Key: "test.topic_two", Payload: []byte("logged")}
	require.NoError(t, bus.Deliver(context.Background(), "test_queue", d))
	assert.Equal(t, 1, d.Acked())
}

func TestOpen_RequeueOnError(t *testing.T) {
	cfg := broker.DefaultConfig()
	cfg.Transport = "memory"
	cfg.RequeueOnError = true
	mb, err := eventbus.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer mb.Close(context.Background())

	attempts := make(chan bool, 2)
	mb.Handle(topology.TestTopic, func(c core.Context) error {
		redelivered := c.Delivery().Redelivered()
		attempts <- redelivered
		if !redelivered {
			return assert.AnError
		}
		return nil
	})
	_, err = mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
	require.NoError(t, err)
	require.NoError(t, mb.Publish(context.Background(), topology.TestExchange, topology.TestTopic, []byte("retry")))

	for _, want := range []bool{false, true} {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("missing delivery attempt")
		}
	}
}

func TestClose_Twice(t *testing.T) {
	mb := openMemory(t)
	sub, err := mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange, topology.RoutingKeys())
	require.NoError(t, err)

	require.NoError(t, mb.Close(context.Background()))
	<-sub.Done()

	assert.ErrorIs(t, mb.Close(context.Background()), core.ErrBusClosed)
	assert.ErrorIs(t, mb.Publish(context.Background(), topology.TestExchange, topology.TestTopic, nil), core.ErrBusClosed)
}

func TestNilBus(t *testing.T) {
	mb := eventbus.New(nil)
	assert.ErrorIs(t, mb.Publish(context.Background(), topology.TestExchange, topology.TestTopic, nil), core.ErrNoBus)
	_, err := mb.Listen(context.Background(), topology.TestQueue, topology.TestExchange, nil)
	assert.ErrorIs(t, err, core.ErrNoBus)
	assert.ErrorIs(t, mb.Close(context.Background()), core.ErrNoBus)
}

func TestOpen_UnknownTransport(t *testing.T) {
	cfg := broker.DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	_, err := eventbus.Open(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrUnknownTransport)
}
