package book

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsim/brokercore/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// memStore is an in-memory PositionStore with injectable failures.
type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position

	createErr error
	closeErr  error
	// closeFails makes Close fail this many times before succeeding.
	closeFails int
	closeCalls int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (m *memStore) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *memStore) Close(_ context.Context, id string, detail domain.CloseDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if m.closeErr != nil {
		return m.closeErr
	}
	if m.closeFails > 0 {
		m.closeFails--
		return errors.New("transient store failure")
	}
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

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestBook(store domain.PositionStore) *Book {
	return New(store, nil, nil, Options{PersistRetries: 3}, discardLogger())
}

func testOrder(userID string) domain.Order {
	return domain.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Account:   "demo",
		Symbol:    "EURUSD",
		Side:      domain.SideBuy,
		Volume:    dec("100"),
		Leverage:  10,
		OpenPrice: dec("1.05000"),
		CreatedAt: time.Now().UTC(),
	}
}

func TestBookOpenAndGet(t *testing.T) {
	store := newMemStore()
	b := newTestBook(store)

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.True(t, pos.CurrentPrice.Equal(dec("1.05000")))
	assert.True(t, pos.ProfitLoss.IsZero())

	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, got.ID)

	// Durable mirror was written before the book admitted the position.
	stored, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)

	assert.Equal(t, 1, b.OpenCount())
}

func TestBookOpenRejectedWhenStoreFails(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("db down")
	b := newTestBook(store)

	_, err := b.Open(context.Background(), testOrder("alice"))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 0, b.OpenCount())
}

func TestBookOwnerIsolation(t *testing.T) {
	b := newTestBook(newMemStore())

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	// Foreign, absent, and (later) closed positions all report the same error.
	_, err = b.Get("bob", pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Close(context.Background(), "bob", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Get("bob", "no-such-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Empty(t, b.ListOpen("bob", ""))
	assert.Len(t, b.ListOpen("alice", ""), 1)
}

func TestBookCloseStampsTerminalFields(t *testing.T) {
	store := newMemStore()
	b := newTestBook(store)

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	closed, err := b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonStopLoss, dec("1.04950"), dec("-0.05"))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, closed.CloseReason)
	require.NotNil(t, closed.ClosePrice)
	assert.True(t, closed.ClosePrice.Equal(dec("1.04950")))
	assert.True(t, closed.ProfitLoss.Equal(dec("-0.05")))
	require.NotNil(t, closed.ClosedAt)

	// Closed positions leave the book but stay in the durable store.
	assert.Equal(t, 0, b.OpenCount())
	stored, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.True(t, stored.ProfitLoss.Equal(dec("-0.05")))

	// A second close finds nothing.
	_, err = b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookCloseRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.closeFails = 2
	b := newTestBook(store)

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	_, err = b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
	require.NoError(t, err, "third attempt succeeds within the retry budget")
	assert.Equal(t, 3, store.closeCalls)
}

func TestBookClosePersistExhaustedKeepsPositionOpen(t *testing.T) {
	store := newMemStore()
	store.closeErr = errors.New("db down")
	b := newTestBook(store)

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	_, err = b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 3, store.closeCalls, "bounded retries")

	// The transition did not happen: the position is still open and closable.
	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)

	store.closeErr = nil
	_, err = b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
	assert.NoError(t, err)
}

func TestBookConcurrentCloseOneWinner(t *testing.T) {
	b := newTestBook(newMemStore())

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Close(context.Background(), "alice", pos.ID, domain.CloseReasonManual, dec("1.05"), dec("0"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}
	}
	assert.Equal(t, 1, wins, "exactly one close succeeds")
}

func TestBookUpdateLive(t *testing.T) {
	b := newTestBook(newMemStore())

	pos, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	b.UpdateLive(pos.ID, dec("1.05100"), dec("1.00"))

	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(dec("1.05100")))
	assert.True(t, got.ProfitLoss.Equal(dec("1.00")))

	// Unknown ids are ignored.
	b.UpdateLive("no-such-id", dec("2"), dec("3"))
}

func TestBookListOpenOrdering(t *testing.T) {
	b := newTestBook(newMemStore())

	var ids []string
	for i := 0; i < 3; i++ {
		pos, err := b.Open(context.Background(), testOrder("alice"))
		require.NoError(t, err)
		ids = append(ids, pos.ID)
		time.Sleep(2 * time.Millisecond)
	}

	listed := b.ListOpen("alice", "")
	require.Len(t, listed, 3)
	for i, pos := range listed {
		assert.Equal(t, ids[i], pos.ID, "open time ascending")
	}

	assert.Empty(t, b.ListOpen("alice", "other-account"))
	assert.Len(t, b.ListOpen("alice", "demo"), 3)
}

func TestBookOpenBySymbol(t *testing.T) {
	b := newTestBook(newMemStore())

	_, err := b.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)

	gold := testOrder("bob")
	gold.Symbol = "XAUUSD"
	_, err = b.Open(context.Background(), gold)
	require.NoError(t, err)

	assert.Len(t, b.OpenBySymbol("EURUSD"), 1)
	assert.Len(t, b.OpenBySymbol("XAUUSD"), 1)
	assert.Empty(t, b.OpenBySymbol("GBPUSD"))
}

func TestBookLoadRehydratesOpenPositions(t *testing.T) {
	store := newMemStore()
	seed := newTestBook(store)

	pos, err := seed.Open(context.Background(), testOrder("alice"))
	require.NoError(t, err)
	seed.UpdateLive(pos.ID, dec("1.06"), dec("100"))

	// A fresh book over the same store picks the position back up with live
	// values reset, not restored stale.
	b := newTestBook(store)
	require.NoError(t, b.Load(context.Background()))

	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(got.OpenPrice))
	assert.True(t, got.ProfitLoss.IsZero())
}
