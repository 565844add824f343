package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsim/brokercore/internal/domain"
)

// fakeSender records every delivered notification.
type fakeSender struct {
	mu      sync.Mutex
	name    string
	sent    []string
	sendErr error
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, title+": "+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotifierEventFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"position_closed"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "Opened", "x"))
	assert.Empty(t, sender.titles(), "unlisted events are filtered")

	require.NoError(t, n.Notify(context.Background(), "position_closed", "Closed", "y"))
	assert.Len(t, sender.titles(), 1)

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(context.Background(), "Anything", "z"))
	assert.Len(t, sender.titles(), 2)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "T", "m"))
	assert.Len(t, sender.titles(), 1)
}

func TestNotifierPartialSenderFailure(t *testing.T) {
	bad := &fakeSender{name: "bad", sendErr: errors.New("network")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "T", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles(), 1, "remaining senders still deliver")
}

// chanBus is a SignalBus backed by plain channels for monitor tests.
type chanBus struct {
	channels map[string]chan []byte
}

func newChanBus(names ...string) *chanBus {
	b := &chanBus{channels: make(map[string]chan []byte)}
	for _, name := range names {
		b.channels[name] = make(chan []byte, 16)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.channels[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.channels[channel], nil
}

func (b *chanBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var _ domain.SignalBus = (*chanBus)(nil)

func TestMonitorNotifiesOnPositionClose(t *testing.T) {
	bus := newChanBus("positions", "incidents")
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"position_closed", "persistence_incident"}, discardLogger())
	m := NewMonitor(bus, n, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	price := decimal.RequireFromString("1.04950")
	payload, err := json.Marshal(map[string]any{
		"event": "position_closed",
		"position": domain.Position{
			ID:          "pos-1",
			UserID:      "alice",
			Symbol:      "EURUSD",
			Side:        domain.SideBuy,
			Volume:      decimal.RequireFromString("100"),
			ClosePrice:  &price,
			CloseReason: domain.CloseReasonStopLoss,
			ProfitLoss:  decimal.RequireFromString("-0.05"),
			Status:      domain.PositionStatusClosed,
		},
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "positions", payload))
	require.NoError(t, bus.Publish(ctx, "incidents", []byte(`{"position_id":"pos-1","error":"db down"}`)))

	require.Eventually(t, func() bool {
		return len(sender.titles()) == 2
	}, time.Second, 10*time.Millisecond)

	titles := sender.titles()
	assert.Contains(t, titles[0], "Position closed")
	assert.Contains(t, titles[0], "stop_loss")
	assert.Contains(t, titles[1], "Persistence incident")

	cancel()
	<-done
}
