package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
	"github.com/miladsoleymani/eventbus/core/middleware"
	"github.com/miladsoleymani/eventbus/internal/mock"
)

func newContext(key string) core.Context {
	d := &mock.Delivery{Ex: "test_exchange", Key: key, Payload: []byte("val")}
	return core.NewContext(context.Background(), d, "test_queue", nil, nil)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := log.StandardLogger()
	prevOut, prevLevel := logger.Out, logger.GetLevel()
	logger.SetOutput(&buf)
	logger.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetLevel(prevLevel)
	})
	return &buf
}

func TestLogging(t *testing.T) {
	buf := captureLogs(t)

	handler := middleware.Logging()(func(c core.Context) error {
		return nil
	})
	require.NoError(t, handler(newContext("test.topic")))

	assert.Contains(t, buf.String(), "delivery handled")
	assert.Contains(t, buf.String(), "test.topic")
}

func TestLogging_Error(t *testing.T) {
	buf := captureLogs(t)

	handler := middleware.Logging()(func(c core.Context) error {
		return errors.New("boom")
	})
	assert.Error(t, handler(newContext("k")))

	assert.Contains(t, buf.String(), "level=error")
	assert.Contains(t, buf.String(), "boom")
}

func TestRecovery(t *testing.T) {
	buf := captureLogs(t)

	handler := middleware.Recovery()(func(c core.Context) error {
		panic("test panic")
	})

	err := handler(newContext("k"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic recovered")
	assert.Contains(t, buf.String(), "test panic")
}

func TestRecovery_NoPanic(t *testing.T) {
	captureLogs(t)

	handler := middleware.Recovery()(func(c core.Context) error {
		return nil
	})
	assert.NoError(t, handler(newContext("k")))
}

type recordingCollector struct {
	queue, key string
	err        error
	calls      int
}

func (r *recordingCollector) DeliveryHandled(queue, key string, _ time.Duration, err error) {
	r.queue, r.key, r.err = queue, key, err
	r.calls++
}

func TestMetrics(t *testing.T) {
	rc := &recordingCollector{}
	boom := errors.New("boom")

	handler := middleware.Metrics(rc)(func(c core.Context) error { return boom })
	assert.ErrorIs(t, handler(newContext("test.topic")), boom)

	assert.Equal(t, 1, rc.calls)
	assert.Equal(t, "test_queue", rc.queue)
	assert.Equal(t, "test.topic", rc.key)
	assert.ErrorIs(t, rc.err, boom)
}

func TestPromCollector(t *testing.T) {
	p := middleware.NewPromCollector()
	handler := middleware.Metrics(p)(func(c core.Context) error { return nil })

	require.NoError(t, handler(newContext("test.topic")))
	require.NoError(t, handler(newContext("test.topic")))
	p.DeliveryHandled("test_queue", "test.topic_two", time.Millisecond, errors.New("x"))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `eventbus_deliveries_total{queue="test_queue",result="ok",routing_key="test.topic"} 2`), out)
	assert.True(t, strings.Contains(out, `eventbus_deliveries_total{queue="test_queue",result="error",routing_key="test.topic_two"} 1`), out)
	assert.Contains(t, out, "eventbus_delivery_duration_seconds_bucket")
}
