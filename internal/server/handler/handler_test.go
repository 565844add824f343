package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsim/brokercore/internal/domain"
	"github.com/fxsim/brokercore/internal/server/middleware"
	"github.com/fxsim/brokercore/internal/service"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubOrders implements OrderService with canned responses.
type stubOrders struct {
	submitErr error
	submitted []service.OrderRequest
	orders    []domain.Order
	listErr   error
}

func (s *stubOrders) Submit(_ context.Context, req service.OrderRequest) (domain.Position, error) {
	s.submitted = append(s.submitted, req)
	if s.submitErr != nil {
		return domain.Position{}, s.submitErr
	}
	return domain.Position{
		ID:        "pos-1",
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		OpenPrice: dec("1.05000"),
		Status:    domain.PositionStatusOpen,
	}, nil
}

func (s *stubOrders) ListOrders(_ context.Context, _, _ string, _ domain.ListOpts) ([]domain.Order, error) {
	return s.orders, s.listErr
}

// stubPositions implements PositionService with canned responses.
type stubPositions struct {
	positions []domain.Position
	history   []domain.Position
	listErr   error
	closeErr  error
	closed    []string
}

func (s *stubPositions) ListOpen(_ context.Context, _, _ string) ([]domain.Position, error) {
	return s.positions, s.listErr
}

func (s *stubPositions) Close(_ context.Context, _, id string) (domain.Position, error) {
	s.closed = append(s.closed, id)
	if s.closeErr != nil {
		return domain.Position{}, s.closeErr
	}
	return domain.Position{ID: id, Status: domain.PositionStatusClosed, CloseReason: domain.CloseReasonManual}, nil
}

func (s *stubPositions) History(_ context.Context, _, _ string, _ domain.ListOpts) ([]domain.Position, error) {
	return s.history, s.listErr
}

// stubQuotes implements QuoteService with canned responses.
type stubQuotes struct {
	quotes   []domain.Quote
	quoteErr error
}

func (s *stubQuotes) Snapshot(_ context.Context) ([]domain.Quote, error) {
	return s.quotes, s.quoteErr
}

func (s *stubQuotes) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	if s.quoteErr != nil {
		return domain.Quote{}, s.quoteErr
	}
	for _, q := range s.quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return domain.Quote{}, domain.ErrUnknownSymbol
}

// newTestMux registers the API routes the way the server does, wrapped in the
// identity middleware.
func newTestMux(orders OrderService, positions PositionService, quotes QuoteService) http.Handler {
	mux := http.NewServeMux()
	logger := discardLogger()

	health := NewHealthHandler("full", time.Now().Add(-3*time.Second), func() int { return 2 })
	mux.HandleFunc("GET /api/health", health.HealthCheck)

	if quotes != nil {
		qh := NewQuoteHandler(quotes, logger)
		mux.HandleFunc("GET /api/quotes", qh.ListQuotes)
		mux.HandleFunc("GET /api/quotes/{symbol}", qh.GetQuote)
	}
	if orders != nil {
		oh := NewOrderHandler(orders, logger)
		mux.HandleFunc("POST /api/orders", oh.PlaceOrder)
		mux.HandleFunc("GET /api/orders", oh.ListOrders)
	}
	if positions != nil {
		ph := NewPositionHandler(positions, logger)
		mux.HandleFunc("GET /api/positions", ph.ListPositions)
		mux.HandleFunc("DELETE /api/positions/{id}", ph.ClosePosition)
		mux.HandleFunc("GET /api/history", ph.History)
	}

	return middleware.Identity()(mux)
}

func doJSON(t *testing.T, h http.Handler, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := newTestMux(nil, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, float64(2), body["open_positions"])
}

func TestUserScopedEndpointsRequireIdentity(t *testing.T) {
	h := newTestMux(&stubOrders{}, &stubPositions{}, nil)

	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/api/orders"},
		{http.MethodGet, "/api/orders"},
		{http.MethodGet, "/api/positions"},
		{http.MethodDelete, "/api/positions/abc"},
		{http.MethodGet, "/api/history"},
	} {
		rec := doJSON(t, h, tc.method, tc.target, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestPlaceOrder(t *testing.T) {
	orders := &stubOrders{}
	h := newTestMux(orders, nil, nil)

	body := `{"symbol":"EURUSD","side":"BUY","volume":"100","leverage":10,"stop_loss":1.0495}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("Idempotency-Key", "  req-9  ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, orders.submitted, 1)
	got := orders.submitted[0]
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, domain.SideBuy, got.Side, "side is normalised to lowercase")
	assert.True(t, got.Volume.Equal(dec("100")), "volume accepts JSON strings")
	require.NotNil(t, got.StopLoss)
	assert.True(t, got.StopLoss.Equal(dec("1.0495")), "price levels accept JSON numbers")
	assert.Equal(t, "req-9", got.IdempotencyKey, "idempotency key is trimmed")

	var pos domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, "pos-1", pos.ID)
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid volume", fmt.Errorf("submit: %w", domain.ErrInvalidVolume), http.StatusBadRequest},
		{"unknown symbol", fmt.Errorf("submit: %w", domain.ErrUnknownSymbol), http.StatusBadRequest},
		{"stale quote", fmt.Errorf("submit: %w", domain.ErrStaleQuote), http.StatusBadRequest},
		{"duplicate", fmt.Errorf("submit: %w", domain.ErrDuplicateOrder), http.StatusConflict},
		{"rate limited", fmt.Errorf("submit: %w", domain.ErrRateLimited), http.StatusTooManyRequests},
		{"persistence", fmt.Errorf("submit: %w", domain.ErrPersistence), http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestMux(&stubOrders{submitErr: tt.err}, nil, nil)
			body := `{"symbol":"EURUSD","side":"buy","volume":1,"leverage":1}`
			rec := doJSON(t, h, http.MethodPost, "/api/orders", "alice", body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestPlaceOrderBadBody(t *testing.T) {
	h := newTestMux(&stubOrders{}, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/orders", "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/orders", "alice", `{"side":"buy","volume":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "symbol required")
}

func TestClosePositionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"stale quote", domain.ErrStaleQuote, http.StatusServiceUnavailable},
		{"persistence", fmt.Errorf("close: %w", domain.ErrPersistence), http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := &stubPositions{closeErr: tt.err}
			h := newTestMux(nil, positions, nil)
			rec := doJSON(t, h, http.MethodDelete, "/api/positions/pos-7", "alice", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"pos-7"}, positions.closed)
		})
	}
}

func TestClosePositionSuccess(t *testing.T) {
	h := newTestMux(nil, &stubPositions{}, nil)

	rec := doJSON(t, h, http.MethodDelete, "/api/positions/pos-7", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var pos domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, "pos-7", pos.ID)
	assert.Equal(t, domain.CloseReasonManual, pos.CloseReason)
}

func TestListPositionsStatusFilter(t *testing.T) {
	positions := &stubPositions{
		positions: []domain.Position{{ID: "open-1", Status: domain.PositionStatusOpen}},
		history:   []domain.Position{{ID: "closed-1", Status: domain.PositionStatusClosed}},
	}
	h := newTestMux(nil, positions, nil)

	ids := func(rec *httptest.ResponseRecorder) []string {
		t.Helper()
		var body listPositionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		out := make([]string, 0, len(body.Positions))
		for _, p := range body.Positions {
			out = append(out, p.ID)
		}
		return out
	}

	rec := doJSON(t, h, http.MethodGet, "/api/positions", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"open-1"}, ids(rec), "no filter defaults to open")

	rec = doJSON(t, h, http.MethodGet, "/api/positions?status=open", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"open-1"}, ids(rec))

	rec = doJSON(t, h, http.MethodGet, "/api/positions?status=closed", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"closed-1"}, ids(rec), "closed filter serves the closed set")

	rec = doJSON(t, h, http.MethodGet, "/api/positions?status=pending", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPositionsEmptyIsArray(t *testing.T) {
	h := newTestMux(nil, &stubPositions{}, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/positions", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestGetQuote(t *testing.T) {
	quotes := &stubQuotes{quotes: []domain.Quote{
		{Symbol: "EURUSD", Bid: dec("1.05"), Ask: dec("1.05")},
	}}
	h := newTestMux(nil, nil, quotes)

	rec := doJSON(t, h, http.MethodGet, "/api/quotes/EURUSD", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var q domain.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "EURUSD", q.Symbol)

	rec = doJSON(t, h, http.MethodGet, "/api/quotes/GBPUSD", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = newTestMux(nil, nil, &stubQuotes{quoteErr: domain.ErrStaleQuote})
	rec = doJSON(t, h, http.MethodGet, "/api/quotes/EURUSD", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=1000&offset=20&since=2026-01-01T00:00:00Z", nil)
	opts := parseListOpts(req)

	assert.Equal(t, 500, opts.Limit, "limit is capped")
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2026, opts.Since.Year())
	assert.Nil(t, opts.Until)

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}
