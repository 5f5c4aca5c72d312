package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS provider_hints (
			account_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS previews (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			venue_key TEXT NOT NULL,
			exchange TEXT,
			currency TEXT,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			order_type TEXT NOT NULL,
			time_in_force TEXT NOT NULL,
			limit_price TEXT NOT NULL DEFAULT '0',
			stop_price TEXT NOT NULL DEFAULT '0',
			correlation_token TEXT NOT NULL,
			estimated_value TEXT NOT NULL,
			commission TEXT NOT NULL,
			reference_price TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_previews_created_at ON previews(created_at)`,

		`CREATE TABLE IF NOT EXISTS order_attempts (
			correlation_token TEXT PRIMARY KEY,
			venue_order_id TEXT,
			account_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			ticker TEXT NOT NULL,
			side INTEGER NOT NULL,
			status INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			filled_quantity TEXT NOT NULL DEFAULT '0',
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			commission TEXT NOT NULL DEFAULT '0',
			note TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_account ON order_attempts(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_status ON order_attempts(status)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveProviderHint upserts the provider hint for an account.
func (r *SQLiteRepository) SaveProviderHint(ctx context.Context, accountID, provider string) error {
	query := `INSERT OR REPLACE INTO provider_hints (account_id, provider, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`

	if _, err := r.db.ExecContext(ctx, query, accountID, provider); err != nil {
		return fmt.Errorf("save provider hint: %w", err)
	}
	return nil
}

// ProviderHint returns the hinted provider for an account, "" when none.
func (r *SQLiteRepository) ProviderHint(ctx context.Context, accountID string) (string, error) {
	var provider string
	err := r.db.QueryRowContext(ctx,
		`SELECT provider FROM provider_hints WHERE account_id = ?`, accountID,
	).Scan(&provider)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query provider hint: %w", err)
	}
	return provider, nil
}

// DeleteProviderHint removes a stale hint.
func (r *SQLiteRepository) DeleteProviderHint(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_hints WHERE account_id = ?`, accountID,
	); err != nil {
		return fmt.Errorf("delete provider hint: %w", err)
	}
	return nil
}

// SavePreview saves a preview with its resolved spec.
func (r *SQLiteRepository) SavePreview(ctx context.Context, p Preview) error {
	query := `INSERT OR REPLACE INTO previews
		(id, account_id, ticker, venue_key, exchange, currency, side, quantity, order_type, time_in_force, limit_price, stop_price, correlation_token, estimated_value, commission, reference_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Spec.AccountID,
		p.Spec.Instrument.Ticker,
		p.Spec.Instrument.VenueKey,
		p.Spec.Instrument.Exchange,
		p.Spec.Instrument.Currency,
		p.Spec.Side,
		p.Spec.Quantity.String(),
		string(p.Spec.OrderType),
		string(p.Spec.TimeInForce),
		p.Spec.LimitPrice.String(),
		p.Spec.StopPrice.String(),
		p.Spec.CorrelationToken,
		p.EstimatedValue.String(),
		p.Commission.String(),
		p.ReferencePrice.String(),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}
	return nil
}

// GetPreview returns a preview by id, nil when not found.
func (r *SQLiteRepository) GetPreview(ctx context.Context, id string) (*Preview, error) {
	query := `SELECT id, account_id, ticker, venue_key, exchange, currency, side, quantity, order_type, time_in_force, limit_price, stop_price, correlation_token, estimated_value, commission, reference_price, created_at
		FROM previews WHERE id = ?`

	var p Preview
	var quantity, limitPrice, stopPrice, estValue, commission, refPrice string
	var orderType, tif string
	var exchange, currency sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Spec.AccountID,
		&p.Spec.Instrument.Ticker,
		&p.Spec.Instrument.VenueKey,
		&exchange,
		&currency,
		&p.Spec.Side,
		&quantity,
		&orderType,
		&tif,
		&limitPrice,
		&stopPrice,
		&p.Spec.CorrelationToken,
		&estValue,
		&commission,
		&refPrice,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preview: %w", err)
	}

	p.Spec.Instrument.Exchange = exchange.String
	p.Spec.Instrument.Currency = currency.String
	p.Spec.OrderType = types.OrderType(orderType)
	p.Spec.TimeInForce = types.TimeInForce(tif)
	p.Spec.Quantity, _ = decimal.NewFromString(quantity)
	p.Spec.LimitPrice, _ = decimal.NewFromString(limitPrice)
	p.Spec.StopPrice, _ = decimal.NewFromString(stopPrice)
	p.EstimatedValue, _ = decimal.NewFromString(estValue)
	p.Commission, _ = decimal.NewFromString(commission)
	p.ReferencePrice, _ = decimal.NewFromString(refPrice)

	return &p, nil
}

// DeletePreviewsBefore removes previews older than the cutoff and returns
// how many were removed.
func (r *SQLiteRepository) DeletePreviewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM previews WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete previews: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// SaveAttempt upserts an order attempt keyed by its correlation token.
func (r *SQLiteRepository) SaveAttempt(ctx context.Context, rec types.OrderRecord) error {
	query := `INSERT OR REPLACE INTO order_attempts
		(correlation_token, venue_order_id, account_id, provider, ticker, side, status, quantity, filled_quantity, avg_fill_price, commission, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.CorrelationToken,
		rec.VenueOrderID,
		rec.AccountID,
		rec.Provider,
		rec.Ticker,
		rec.Side,
		rec.Status,
		rec.Quantity.String(),
		rec.FilledQuantity.String(),
		rec.AvgFillPrice.String(),
		rec.Commission.String(),
		rec.Note,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetAttempt returns the attempt for a correlation token, nil when unknown.
func (r *SQLiteRepository) GetAttempt(ctx context.Context, correlationToken string) (*types.OrderRecord, error) {
	query := attemptSelect + ` WHERE correlation_token = ?`

	rows, err := r.db.QueryContext(ctx, query, correlationToken)
	if err != nil {
		return nil, fmt.Errorf("query attempt: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return &attempts[0], nil
}

// UnresolvedAttempts returns attempts whose status is not terminal, oldest
// first, for the reconciliation pass.
func (r *SQLiteRepository) UnresolvedAttempts(ctx context.Context) ([]types.OrderRecord, error) {
	query := attemptSelect + ` WHERE status IN (?, ?, ?, ?) ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query,
		types.StatusPending, types.StatusAccepted, types.StatusPartial, types.StatusCancelPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query unresolved attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAttempts(rows)
}

// AttemptHistory returns the most recent attempts for an account.
func (r *SQLiteRepository) AttemptHistory(ctx context.Context, accountID string, limit int) ([]types.OrderRecord, error) {
	query := attemptSelect + ` WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempt history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAttempts(rows)
}

const attemptSelect = `SELECT correlation_token, venue_order_id, account_id, provider, ticker, side, status, quantity, filled_quantity, avg_fill_price, commission, note, created_at, updated_at
	FROM order_attempts`

func scanAttempts(rows *sql.Rows) ([]types.OrderRecord, error) {
	var records []types.OrderRecord
	for rows.Next() {
		var rec types.OrderRecord
		var quantity, filled, avgPrice, commission string
		var venueOrderID, note sql.NullString

		if err := rows.Scan(&rec.CorrelationToken, &venueOrderID, &rec.AccountID, &rec.Provider, &rec.Ticker, &rec.Side, &rec.Status, &quantity, &filled, &avgPrice, &commission, &note, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.VenueOrderID = venueOrderID.String
		rec.Note = note.String
		rec.Quantity, _ = decimal.NewFromString(quantity)
		rec.FilledQuantity, _ = decimal.NewFromString(filled)
		rec.AvgFillPrice, _ = decimal.NewFromString(avgPrice)
		rec.Commission, _ = decimal.NewFromString(commission)

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
