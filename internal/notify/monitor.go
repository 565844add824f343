package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fxsim/brokercore/internal/domain"
)

// Monitor consumes position transitions and persistence incidents from the
// signal bus and turns them into operator notifications. It is the core of
// the monitor run mode, which can follow an engine process from a separate
// one.
type Monitor struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewMonitor creates a Monitor over the given bus and notifier.
func NewMonitor(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "monitor")),
	}
}

// positionEvent mirrors the envelope published on the "positions" channel.
type positionEvent struct {
	Event    string          `json:"event"`
	Position domain.Position `json:"position"`
}

// Run subscribes to the positions and incidents channels and dispatches
// notifications until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	positions, err := m.bus.Subscribe(ctx, "positions")
	if err != nil {
		return fmt.Errorf("notify: subscribe positions: %w", err)
	}
	incidents, err := m.bus.Subscribe(ctx, "incidents")
	if err != nil {
		return fmt.Errorf("notify: subscribe incidents: %w", err)
	}

	m.logger.Info("monitor started")
	defer m.logger.Info("monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-positions:
			if !ok {
				return nil
			}
			m.handlePosition(ctx, payload)
		case payload, ok := <-incidents:
			if !ok {
				return nil
			}
			m.handleIncident(ctx, payload)
		}
	}
}

func (m *Monitor) handlePosition(ctx context.Context, payload []byte) {
	var evt positionEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.logger.Warn("malformed position event", slog.String("error", err.Error()))
		return
	}

	pos := evt.Position
	switch evt.Event {
	case "position_opened":
		msg := fmt.Sprintf("%s %s %s @ %s (volume %s, leverage %d)",
			pos.UserID, pos.Side, pos.Symbol, pos.OpenPrice, pos.Volume, pos.Leverage)
		_ = m.notifier.Notify(ctx, evt.Event, "Position opened", msg)
	case "position_closed":
		price := ""
		if pos.ClosePrice != nil {
			price = pos.ClosePrice.String()
		}
		msg := fmt.Sprintf("%s %s %s closed @ %s (%s), P&L %s",
			pos.UserID, pos.Side, pos.Symbol, price, pos.CloseReason, pos.ProfitLoss)
		_ = m.notifier.Notify(ctx, evt.Event, "Position closed", msg)
	}
}

func (m *Monitor) handleIncident(ctx context.Context, payload []byte) {
	_ = m.notifier.Notify(ctx, "persistence_incident", "Persistence incident", string(payload))
}
