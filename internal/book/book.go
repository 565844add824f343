// Package book implements the position book: the authoritative in-memory set
// of open positions with a durable mirror. It owns creation, live updates,
// and the open → closed transition.
package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/domain"
)

// Options tunes the durable-write retry policy.
type Options struct {
	PersistRetries int
	PersistBackoff time.Duration
}

// Book holds every open position in memory, keyed by id and indexed by owner.
// Mutations of a single position are serialized through a per-entry mutex, so
// a manual close and an auto-close from the same tick resolve to exactly one
// winner. The durable store is written before the in-memory state commits: a
// transition that cannot be persisted does not happen.
type Book struct {
	store  domain.PositionStore
	audit  domain.AuditStore // optional
	bus    domain.SignalBus  // optional
	logger *slog.Logger

	retries int
	backoff time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	byOwner map[string]map[string]*entry
}

// entry wraps one position with its serialization lock. Reads copy the
// position under the lock so callers always observe price and P&L from the
// same tick.
type entry struct {
	mu  sync.Mutex
	pos domain.Position
}

// New creates an empty Book. Call Load to rehydrate open positions from the
// durable mirror before serving traffic.
func New(store domain.PositionStore, audit domain.AuditStore, bus domain.SignalBus, opts Options, logger *slog.Logger) *Book {
	retries := opts.PersistRetries
	if retries < 1 {
		retries = 1
	}
	return &Book{
		store:   store,
		audit:   audit,
		bus:     bus,
		logger:  logger.With(slog.String("component", "book")),
		retries: retries,
		backoff: opts.PersistBackoff,
		entries: make(map[string]*entry),
		byOwner: make(map[string]map[string]*entry),
	}
}

// Load rehydrates the book from the durable store. Only open positions are
// kept in memory; their live P&L is recomputed from fresh quotes on the next
// tick, never restored stale from disk.
func (b *Book) Load(ctx context.Context) error {
	open, err := b.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("book: load open positions: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range open {
		pos.CurrentPrice = pos.OpenPrice
		pos.ProfitLoss = decimal.Zero
		b.admitLocked(pos)
	}
	b.logger.Info("position book loaded", slog.Int("open_positions", len(open)))
	return nil
}

// admitLocked inserts a position into both indexes. Caller holds b.mu.
func (b *Book) admitLocked(pos domain.Position) {
	e := &entry{pos: pos}
	b.entries[pos.ID] = e
	owned, ok := b.byOwner[pos.UserID]
	if !ok {
		owned = make(map[string]*entry)
		b.byOwner[pos.UserID] = owned
	}
	owned[pos.ID] = e
}

// Open creates a new open position from an accepted order at the given
// effective price, persists it, and admits it to the book. The durable insert
// happens first; an order whose position cannot be persisted is rejected.
func (b *Book) Open(ctx context.Context, order domain.Order) (domain.Position, error) {
	now := time.Now().UTC()
	pos := domain.Position{
		ID:           uuid.New().String(),
		UserID:       order.UserID,
		Account:      order.Account,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Volume:       order.Volume,
		OpenPrice:    order.OpenPrice,
		CurrentPrice: order.OpenPrice,
		Leverage:     order.Leverage,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		ProfitLoss:   decimal.Zero,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     now,
	}

	if err := b.persist(ctx, func() error { return b.store.Create(ctx, pos) }); err != nil {
		return domain.Position{}, fmt.Errorf("book: open position: %w: %v", domain.ErrPersistence, err)
	}

	b.mu.Lock()
	b.admitLocked(pos)
	b.mu.Unlock()

	b.logAudit(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"user_id":     pos.UserID,
		"account":     pos.Account,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"open_price":  pos.OpenPrice.String(),
		"volume":      pos.Volume.String(),
	})
	b.publish(ctx, positionEvent{
		Event:    "position_opened",
		Position: pos,
	})

	b.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("user_id", pos.UserID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.String("open_price", pos.OpenPrice.String()),
	)
	return pos, nil
}

// Close transitions the identified position from open to closed, stamping the
// close fields and the final P&L. It returns ErrNotFound when the position
// does not exist, is not owned by owner, or has already been closed. The
// answer is the same in all three cases, so nothing leaks about other users'
// books.
//
// The durable write runs before the in-memory flip and is retried a bounded
// number of times; if it keeps failing the position stays open and the error
// surfaces to the caller.
func (b *Book) Close(ctx context.Context, owner, id string, reason domain.CloseReason, price, pl decimal.Decimal) (domain.Position, error) {
	b.mu.RLock()
	e := b.entries[id]
	b.mu.RUnlock()

	if e == nil {
		return domain.Position{}, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.UserID != owner || !e.pos.Open() {
		return domain.Position{}, domain.ErrNotFound
	}

	now := time.Now().UTC()
	detail := domain.CloseDetail{Price: price, Reason: reason, ProfitLoss: pl, At: now}

	if err := b.persist(ctx, func() error { return b.store.Close(ctx, id, detail) }); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The durable mirror already closed it (e.g. a previous attempt
			// committed before the process died). Converge the memory copy.
			b.evict(id, e.pos.UserID)
			return domain.Position{}, domain.ErrNotFound
		}
		incident := map[string]any{
			"position_id": id,
			"operation":   "close",
			"error":       err.Error(),
		}
		b.logAudit(ctx, "persistence_incident", incident)
		b.publishIncident(ctx, incident)
		return domain.Position{}, fmt.Errorf("book: close position %s: %w: %v", id, domain.ErrPersistence, err)
	}

	e.pos.Status = domain.PositionStatusClosed
	e.pos.ClosePrice = &price
	e.pos.CloseReason = reason
	e.pos.ClosedAt = &now
	e.pos.CurrentPrice = price
	e.pos.ProfitLoss = pl
	closed := e.pos

	b.evict(id, closed.UserID)

	b.logAudit(ctx, "position_closed", map[string]any{
		"position_id": closed.ID,
		"user_id":     closed.UserID,
		"symbol":      closed.Symbol,
		"reason":      string(reason),
		"close_price": price.String(),
		"profit_loss": pl.String(),
	})
	b.publish(ctx, positionEvent{
		Event:    "position_closed",
		Position: closed,
	})

	b.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", closed.ID),
		slog.String("user_id", closed.UserID),
		slog.String("symbol", closed.Symbol),
		slog.String("reason", string(reason)),
		slog.String("close_price", price.String()),
		slog.String("profit_loss", pl.String()),
	)
	return closed, nil
}

// evict removes a position from both indexes. Closed positions are served
// from the durable store, so the book only ever holds open ones.
func (b *Book) evict(id, owner string) {
	b.mu.Lock()
	delete(b.entries, id)
	if owned, ok := b.byOwner[owner]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(b.byOwner, owner)
		}
	}
	b.mu.Unlock()
}

// Get returns a consistent copy of the identified open position, enforcing
// owner isolation.
func (b *Book) Get(owner, id string) (domain.Position, error) {
	b.mu.RLock()
	e := b.entries[id]
	b.mu.RUnlock()
	if e == nil {
		return domain.Position{}, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos.UserID != owner || !e.pos.Open() {
		return domain.Position{}, domain.ErrNotFound
	}
	return e.pos, nil
}

// UpdateLive sets the current price and floating P&L of an open position as
// one atomic update, so readers never observe the price of one tick with the
// P&L of another. Updates to closed (or unknown) positions are ignored.
func (b *Book) UpdateLive(id string, price, pl decimal.Decimal) {
	b.mu.RLock()
	e := b.entries[id]
	b.mu.RUnlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.pos.Open() {
		e.pos.CurrentPrice = price
		e.pos.ProfitLoss = pl
	}
	e.mu.Unlock()
}

// ListOpen returns owner's open positions for the given account (all accounts
// when account is empty), ordered by open time ascending. Each element is a
// consistent snapshot taken under its entry lock.
func (b *Book) ListOpen(owner, account string) []domain.Position {
	b.mu.RLock()
	owned := b.byOwner[owner]
	refs := make([]*entry, 0, len(owned))
	for _, e := range owned {
		refs = append(refs, e)
	}
	b.mu.RUnlock()

	out := make([]domain.Position, 0, len(refs))
	for _, e := range refs {
		e.mu.Lock()
		pos := e.pos
		e.mu.Unlock()
		if !pos.Open() {
			continue
		}
		if account != "" && pos.Account != account {
			continue
		}
		out = append(out, pos)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenBySymbol returns every open position on the given symbol across all
// owners, for the trigger engine's per-tick pass.
func (b *Book) OpenBySymbol(symbol string) []domain.Position {
	b.mu.RLock()
	refs := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		refs = append(refs, e)
	}
	b.mu.RUnlock()

	var out []domain.Position
	for _, e := range refs {
		e.mu.Lock()
		pos := e.pos
		e.mu.Unlock()
		if pos.Open() && pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	return out
}

// OpenCount returns the number of open positions in the book.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// History returns owner's closed positions for the given account, newest
// close first, from the durable store.
func (b *Book) History(ctx context.Context, owner, account string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := b.store.ListClosedByUser(ctx, owner, account, opts)
	if err != nil {
		return nil, fmt.Errorf("book: list history: %w", err)
	}
	return positions, nil
}

// persist runs fn, retrying transient failures with a fixed backoff up to the
// configured bound. ErrNotFound is terminal, not transient.
func (b *Book) persist(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= b.retries; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		b.logger.WarnContext(ctx, "durable write failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", b.retries),
			slog.String("error", err.Error()),
		)
		if attempt < b.retries && b.backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.backoff):
			}
		}
	}
	return err
}

// positionEvent is the JSON shape published on the "positions" channel.
type positionEvent struct {
	Event    string          `json:"event"`
	Position domain.Position `json:"position"`
}

func (b *Book) publish(ctx context.Context, evt positionEvent) {
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, "positions", payload); err != nil {
		b.logger.WarnContext(ctx, "position event publish failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
	}
}

// publishIncident pushes a persistence incident onto the "incidents" channel
// so monitors can alert on it.
func (b *Book) publishIncident(ctx context.Context, detail map[string]any) {
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, "incidents", payload); err != nil {
		b.logger.WarnContext(ctx, "incident publish failed",
			slog.String("error", err.Error()),
		)
	}
}

func (b *Book) logAudit(ctx context.Context, event string, detail map[string]any) {
	if b.audit == nil {
		return
	}
	if err := b.audit.Log(ctx, event, detail); err != nil {
		b.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
