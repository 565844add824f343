package service

import (
	"context"
	"sync"
	"time"

	"github.com/fxsim/brokercore/internal/domain"
)

// memStore is an in-memory PositionStore shared by the service tests.
type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (m *memStore) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos
	return nil
}

func (m *memStore) Close(_ context.Context, id string, detail domain.CloseDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}
	pos.Status = domain.PositionStatusClosed
	pos.ClosePrice = &detail.Price
	pos.CloseReason = detail.Reason
	pos.ProfitLoss = detail.ProfitLoss
	at := detail.At
	pos.ClosedAt = &at
	m.positions[id] = pos
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memStore) ListOpenByUser(_ context.Context, userID, account string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusOpen && pos.UserID == userID &&
			(account == "" || pos.Account == account) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memStore) ListClosedByUser(_ context.Context, userID, account string, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusClosed && pos.UserID == userID &&
			(account == "" || pos.Account == account) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memStore) ListClosedBefore(_ context.Context, cutoff time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(cutoff) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memStore) DeleteClosedBefore(_ context.Context, cutoff time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for id, pos := range m.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(cutoff) {
			out = append(out, pos)
			delete(m.positions, id)
		}
	}
	return out, nil
}

var _ domain.PositionStore = (*memStore)(nil)
