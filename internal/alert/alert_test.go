package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishWithKey(ctx context.Context, routingKey string, body []byte, contentType string) error {
	args := m.Called(ctx, routingKey, body, contentType)
	return args.Error(0)
}

func sampleAlert() Alert {
	return Alert{
		Kind:      KindBacklog,
		Message:   "pending backlog above threshold",
		Value:     1500,
		Threshold: 1000,
		RaisedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRabbitSink_Send(t *testing.T) {
	publisher := new(mockPublisher)
	publisher.On("PublishWithKey", mock.Anything, "ops.backlog", mock.Anything, "application/json").
		Return(nil).Once()

	sink := NewRabbitSink(publisher, "ops")
	require.NoError(t, sink.Send(context.Background(), sampleAlert()))

	publisher.AssertExpectations(t)
	body := publisher.Calls[0].Arguments.Get(2).([]byte)

	var decoded Alert
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, KindBacklog, decoded.Kind)
	assert.Equal(t, float64(1500), decoded.Value)
}

func TestRabbitSink_PublishError(t *testing.T) {
	publisher := new(mockPublisher)
	publisher.On("PublishWithKey", mock.Anything, "alerts.backlog", mock.Anything, "application/json").
		Return(errors.New("channel closed"))

	err := NewRabbitSink(publisher, "").Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestLogSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Send(context.Background(), sampleAlert()))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "backlog", entry["kind"])
}

func TestFanout_JoinsErrors(t *testing.T) {
	var delivered int
	ok := SinkFunc(func(context.Context, Alert) error {
		delivered++
		return nil
	})
	failing := SinkFunc(func(context.Context, Alert) error {
		return errors.New("boom")
	})

	err := Fanout{ok, failing, ok}.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Equal(t, 2, delivered)
}
