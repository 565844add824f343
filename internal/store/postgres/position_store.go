package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, account, symbol, side, volume,
	open_price, leverage, stop_loss, take_profit, profit_loss,
	status, opened_at, close_price, close_reason, closed_at`

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var stopLoss, takeProfit, closePrice decimal.NullDecimal
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.UserID, &p.Account, &p.Symbol, &side,
		&p.Volume, &p.OpenPrice, &p.Leverage,
		&stopLoss, &takeProfit, &p.ProfitLoss,
		&status, &p.OpenedAt,
		&closePrice, &closeReason, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	if stopLoss.Valid {
		v := stopLoss.Decimal
		p.StopLoss = &v
	}
	if takeProfit.Valid {
		v := takeProfit.Decimal
		p.TakeProfit = &v
	}
	if closePrice.Valid {
		v := closePrice.Decimal
		p.ClosePrice = &v
		p.CurrentPrice = v
	} else {
		// Live price and P&L are recomputed from quotes, not read from disk.
		p.CurrentPrice = p.OpenPrice
	}
	if closeReason != nil {
		p.CloseReason = domain.CloseReason(*closeReason)
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, user_id, account, symbol, side, volume,
			open_price, leverage, stop_loss, take_profit, profit_loss,
			status, opened_at, close_price, close_reason, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, NOW()
		)`

	var closeReason *string
	if p.CloseReason != "" {
		r := string(p.CloseReason)
		closeReason = &r
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Account, p.Symbol, string(p.Side), p.Volume,
		p.OpenPrice, p.Leverage, nullDecimal(p.StopLoss), nullDecimal(p.TakeProfit), p.ProfitLoss,
		string(p.Status), p.OpenedAt, nullDecimal(p.ClosePrice), closeReason, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Close transitions an open position to closed, stamping the close fields and
// the realized P&L. The status guard makes the transition single-shot: a
// second close of the same id affects zero rows and reports ErrNotFound.
func (s *PositionStore) Close(ctx context.Context, id string, detail domain.CloseDetail) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			close_price  = $2,
			close_reason = $3,
			profit_loss  = $4,
			closed_at    = $5,
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		id, detail.Price, string(detail.Reason), detail.ProfitLoss, detail.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every open position across all users, for rehydrating the
// in-memory book at startup.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpenByUser returns the user's open positions, optionally filtered by
// account.
func (s *PositionStore) ListOpenByUser(ctx context.Context, userID, account string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE user_id = $1 AND status = 'open'`
	args := []any{userID}
	if account != "" {
		query += ` AND account = $2`
		args = append(args, account)
	}
	query += ` ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for %s: %w", userID, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions for %s: %w", userID, err)
	}
	return positions, nil
}

// closedByUserQuery builds the SELECT for a user's closed positions. The
// placeholder numbering is recomputed as each optional filter is appended so
// it stays aligned with the argument slice.
func closedByUserQuery(userID, account string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE user_id = $1 AND status = 'closed'`
	args := []any{userID}
	argIdx := 2

	if account != "" {
		query += fmt.Sprintf(" AND account = $%d", argIdx)
		args = append(args, account)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

// ListClosedByUser returns the user's closed positions, newest close first,
// with pagination and optional close-time filtering.
func (s *PositionStore) ListClosedByUser(ctx context.Context, userID, account string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := closedByUserQuery(userID, account, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions for %s: %w", userID, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions for %s: %w", userID, err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions whose close time is before
// cutoff, oldest first.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before cutoff: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions before cutoff: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore removes closed positions whose close time is before
// cutoff and returns the deleted rows so the caller can archive them.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, cutoff time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 RETURNING `+positionSelectCols, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deleted positions: %w", err)
	}
	return positions, nil
}
