package engine

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

	"github.com/fxsim/brokercore/internal/book"
	"github.com/fxsim/brokercore/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// stubStore is a minimal in-memory PositionStore for engine tests.
type stubStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	closeErr  error
}

func newStubStore() *stubStore {
	return &stubStore{positions: make(map[string]domain.Position)}
}

func (s *stubStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *stubStore) Close(_ context.Context, id string, detail domain.CloseDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	pos, ok := s.positions[id]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}
	pos.Status = domain.PositionStatusClosed
	pos.ClosePrice = &detail.Price
	pos.CloseReason = detail.Reason
	pos.ProfitLoss = detail.ProfitLoss
	at := detail.At
	pos.ClosedAt = &at
	s.positions[id] = pos
	return nil
}

func (s *stubStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *stubStore) ListOpen(_ context.Context) ([]domain.Position, error) { return nil, nil }

func (s *stubStore) ListOpenByUser(_ context.Context, _, _ string) ([]domain.Position, error) {
	return nil, nil
}

func (s *stubStore) ListClosedByUser(_ context.Context, _, _ string, _ domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *stubStore) ListClosedBefore(_ context.Context, _ time.Time) ([]domain.Position, error) {
	return nil, nil
}

func (s *stubStore) DeleteClosedBefore(_ context.Context, _ time.Time) ([]domain.Position, error) {
	return nil, nil
}

var _ domain.PositionStore = (*stubStore)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testRegistry(t *testing.T) *domain.Registry {
	t.Helper()
	r, err := domain.NewRegistry([]domain.Instrument{
		{Symbol: "EURUSD", PipSize: dec("0.0001"), Precision: 5, Volatility: dec("0.0005"), BasePrice: dec("1.0532")},
		{Symbol: "XAUUSD", PipSize: dec("0.01"), Precision: 2, Volatility: dec("0.005"), BasePrice: dec("2678.45")},
	})
	require.NoError(t, err)
	return r
}

func openPosition(t *testing.T, b *book.Book, order domain.Order) domain.Position {
	t.Helper()
	pos, err := b.Open(context.Background(), order)
	require.NoError(t, err)
	return pos
}

func buyOrder(symbol, openPrice string, stopLoss, takeProfit *decimal.Decimal) domain.Order {
	return domain.Order{
		ID:         uuid.New().String(),
		UserID:     "alice",
		Account:    "demo",
		Symbol:     symbol,
		Side:       domain.SideBuy,
		Volume:     dec("100"),
		Leverage:   1,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenPrice:  dec(openPrice),
		CreatedAt:  time.Now().UTC(),
	}
}

func tickWith(quotes map[string]string) domain.Tick {
	tick := domain.Tick{Seq: 1, At: time.Now().UTC(), Quotes: make(map[string]domain.Quote)}
	for sym, price := range quotes {
		tick.Quotes[sym] = domain.Quote{Symbol: sym, Bid: dec(price), Ask: dec(price), At: tick.At}
	}
	return tick
}

func TestHandleTickClosesOnStopLoss(t *testing.T) {
	store := newStubStore()
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	pos := openPosition(t, b, buyOrder("EURUSD", "1.05000", decPtr("1.04950"), nil))

	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "1.04940",
		"XAUUSD": "2678.45",
	}))

	stored, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, stored.CloseReason)
	require.NotNil(t, stored.ClosePrice)
	assert.True(t, stored.ClosePrice.Equal(dec("1.04940")), "closed at the price that triggered")
	assert.True(t, stored.ProfitLoss.Equal(dec("-0.06")))
	assert.Equal(t, 0, b.OpenCount())
}

func TestHandleTickClosesOnTakeProfit(t *testing.T) {
	store := newStubStore()
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	pos := openPosition(t, b, buyOrder("EURUSD", "1.05000", nil, decPtr("1.05100")))

	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "1.05120",
		"XAUUSD": "2678.45",
	}))

	stored, err := store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTakeProfit, stored.CloseReason)
	assert.True(t, stored.ProfitLoss.Equal(dec("0.12")))
}

func TestHandleTickUpdatesLiveValues(t *testing.T) {
	store := newStubStore()
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	pos := openPosition(t, b, buyOrder("EURUSD", "1.05000", decPtr("1.04000"), decPtr("1.06000")))

	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "1.05050",
		"XAUUSD": "2678.45",
	}))

	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.True(t, got.CurrentPrice.Equal(dec("1.05050")))
	assert.True(t, got.ProfitLoss.Equal(dec("0.05")))
}

func TestHandleTickSkipsSymbolsWithBadQuotes(t *testing.T) {
	store := newStubStore()
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	eur := openPosition(t, b, buyOrder("EURUSD", "1.05000", decPtr("1.04950"), nil))
	gold := openPosition(t, b, buyOrder("XAUUSD", "2678.45", decPtr("2670.00"), nil))

	// EURUSD quote is missing; XAUUSD has crossed its stop. Only the gold
	// position is touched.
	e.HandleTick(context.Background(), tickWith(map[string]string{
		"XAUUSD": "2669.00",
	}))

	got, err := b.Get("alice", eur.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)

	stored, err := store.GetByID(context.Background(), gold.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
}

func TestHandleTickSkipsNonPositiveQuotes(t *testing.T) {
	store := newStubStore()
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	pos := openPosition(t, b, buyOrder("EURUSD", "1.05000", decPtr("1.04950"), nil))

	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "0",
		"XAUUSD": "2678.45",
	}))

	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestHandleTickPersistFailureLeavesPositionOpen(t *testing.T) {
	store := newStubStore()
	store.closeErr = errors.New("db down")
	b := book.New(store, nil, nil, book.Options{PersistRetries: 1}, discardLogger())
	e := New(testRegistry(t), b, discardLogger())

	pos := openPosition(t, b, buyOrder("EURUSD", "1.05000", decPtr("1.04950"), nil))

	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "1.04940",
		"XAUUSD": "2678.45",
	}))

	// The trigger could not be persisted, so the position stays open and the
	// next tick gets another chance.
	got, err := b.Get("alice", pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)

	store.closeErr = nil
	e.HandleTick(context.Background(), tickWith(map[string]string{
		"EURUSD": "1.04940",
		"XAUUSD": "2678.45",
	}))
	_, err = b.Get("alice", pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
