package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradeboard/internal/domain"
)

// PostgresSource implements DataSource against a Postgres-backed datastore
// holding a trades table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to the datastore and verifies the connection.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresSource{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

const tradeColumns = `
	id, symbol, entry_price, exit_price, quantity,
	realized_pnl, profit_percentage, COALESCE(outcome, ''), confidence,
	trade_date, created_at
`

// FetchCompleted returns all completed trade rows, ordered by trade date.
func (s *PostgresSource) FetchCompleted(ctx context.Context) ([]domain.TradeRow, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'completed'
		ORDER BY trade_date ASC, id ASC
	`
	return s.query(ctx, query)
}

// FetchActive returns all active trade rows, ordered by trade date.
func (s *PostgresSource) FetchActive(ctx context.Context) ([]domain.TradeRow, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'active'
		ORDER BY trade_date ASC, id ASC
	`
	return s.query(ctx, query)
}

// FetchCompletedSince returns completed rows created after since.
func (s *PostgresSource) FetchCompletedSince(ctx context.Context, since time.Time) ([]domain.TradeRow, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = 'completed' AND created_at > $1
		ORDER BY trade_date ASC, id ASC
	`
	return s.query(ctx, query, since)
}

func (s *PostgresSource) query(ctx context.Context, query string, args ...any) ([]domain.TradeRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []domain.TradeRow
	for rows.Next() {
		var r domain.TradeRow
		err := rows.Scan(
			&r.ID, &r.Symbol, &r.EntryPrice, &r.ExitPrice, &r.Quantity,
			&r.RealizedPnL, &r.ProfitPct, &r.Outcome, &r.Confidence,
			&r.TradeDate, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return result, nil
}

var _ DataSource = (*PostgresSource)(nil)
