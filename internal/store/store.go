package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// Repository is the persistence boundary of the service. Every multi-row write goes through WithTx.
type Repository interface {
	// WithTx runs fn in one transaction. fn's error is returned unchanged after rollback.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetOrder loads the order with its items and payments, newest payment first.
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)

	RecordNotification(ctx context.Context, n *models.WebhookNotification) error
	MarkNotificationProcessed(ctx context.Context, id string, processErr error) error

	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside WithTx.
type Tx interface {
	// GetOrderForUpdate locks the order row and loads its items and payments.
	GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error)
	// GetPaymentByExternalIDForUpdate locks the payment row. It returns nil, nil when there is none.
	GetPaymentByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payment, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	UpdateOrder(ctx context.Context, order *models.Order) error

	InsertPayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error
}

// Store is the Postgres repository.
type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *sqlTx) GetPaymentByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payment, error) {
	p, err := getPaymentByExternalID(ctx, t.tx, externalID, true)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (t *sqlTx) InsertOrder(ctx context.Context, order *models.Order) error {
	return insertOrder(ctx, t.tx, order)
}

func (t *sqlTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	return insertOrderItem(ctx, t.tx, item)
}

func (t *sqlTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	return updateOrder(ctx, t.tx, order)
}

func (t *sqlTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	return insertPayment(ctx, t.tx, payment)
}

func (t *sqlTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return updatePayment(ctx, t.tx, payment)
}
