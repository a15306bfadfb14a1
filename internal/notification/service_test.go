package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/bloodbridge/platform/internal/shared/errors"
)

func newTestDispatcher(t *testing.T, cfg DispatcherConfig) (*Dispatcher, *MockProvider, <-chan Result, *[]time.Duration) {
	t.Helper()

	d := NewDispatcher(cfg, zap.NewNop())
	var delays []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		delays = append(delays, wait)
		return nil
	}

	mock := NewMockProvider()
	d.Register(ChannelSMS, mock)

	results := make(chan Result, 8)
	d.OnResult(func(r Result) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = d.Stop()
	})

	return d, mock, results, &delays
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery result")
		return Result{}
	}
}

func TestDispatcherDelivers(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 1
	cfg.SendRate = 0
	d, mock, results, _ := newTestDispatcher(t, cfg)

	require.NoError(t, d.Dispatch(Message{Channel: ChannelSMS, Phone: "9876543210", Body: "hello"}))

	res := waitResult(t, results)
	assert.True(t, res.Delivered)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Message.ID)

	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Body)
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 1
	cfg.SendRate = 0
	d, mock, results, delays := newTestDispatcher(t, cfg)

	mock.FailNext(2, errors.New("gateway timeout"))
	require.NoError(t, d.Dispatch(Message{Channel: ChannelSMS, Phone: "9876543210", Body: "retry"}))

	res := waitResult(t, results)
	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 1
	cfg.SendRate = 0
	d, mock, results, _ := newTestDispatcher(t, cfg)

	mock.FailNext(5, errors.New("gateway down"))
	require.NoError(t, d.Dispatch(Message{Channel: ChannelSMS, Phone: "9876543210", Body: "lost"}))

	res := waitResult(t, results)
	assert.False(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualError(t, res.Err, "gateway down")
	assert.Empty(t, mock.Sent())
}

func TestDispatchUnsupportedChannel(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())

	err := d.Dispatch(Message{Channel: ChannelVoice})
	assert.True(t, apperrors.IsValidation(err))
}

func TestDispatchBufferFull(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.BufferSize = 1
	d := NewDispatcher(cfg, zap.NewNop())
	d.Register(ChannelSMS, NewMockProvider())

	require.NoError(t, d.Dispatch(Message{Channel: ChannelSMS}))
	err := d.Dispatch(Message{Channel: ChannelSMS})
	assert.True(t, errors.Is(err, apperrors.ErrDelivery))
}

func TestDispatcherStartStop(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())

	assert.Error(t, d.Stop())
	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	assert.NoError(t, d.Stop())
}

func TestParseChannel(t *testing.T) {
	ch, ok := ParseChannel("")
	assert.True(t, ok)
	assert.Equal(t, ChannelSMS, ch)

	ch, ok = ParseChannel("voice")
	assert.True(t, ok)
	assert.Equal(t, ChannelVoice, ch)

	_, ok = ParseChannel("pigeon")
	assert.False(t, ok)
}
