package seckill

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhub/flashsale/types"
)

// PostgresOrderStore is the relational OrderStore backed by a pgx pool.
//
// Expected schema:
//
//	seckill_voucher(voucher_id BIGINT PRIMARY KEY, stock INT NOT NULL CHECK (stock >= 0))
//	voucher_order(id BIGINT PRIMARY KEY, user_id BIGINT, voucher_id BIGINT,
//	              created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	              UNIQUE (user_id, voucher_id))
type PostgresOrderStore struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderStore connects a pool from the given DSN.
func NewPostgresOrderStore(ctx context.Context, dsn string) (*PostgresOrderStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresOrderStore{pool: pool}, nil
}

// NewPostgresOrderStoreFromPool wraps an existing pool.
func NewPostgresOrderStoreFromPool(pool *pgxpool.Pool) *PostgresOrderStore {
	return &PostgresOrderStore{pool: pool}
}

// Close closes the underlying pool.
func (s *PostgresOrderStore) Close() {
	s.pool.Close()
}

// HasOrder reports whether an order already exists for (user, voucher).
func (s *PostgresOrderStore) HasOrder(ctx context.Context, userID, voucherID uint64) (bool, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM voucher_order WHERE user_id = $1 AND voucher_id = $2`,
		int64(userID), int64(voucherID),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateOrder runs the guarded decrement and the insert in one transaction.
// The decrement's "stock > 0" predicate is what keeps durable stock from
// going negative under concurrent attempts; an unaffected row aborts the
// transaction with ErrOutOfStock.
func (s *PostgresOrderStore) CreateOrder(ctx context.Context, intent types.OrderIntent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE seckill_voucher SET stock = stock - 1 WHERE voucher_id = $1 AND stock > 0`,
		int64(intent.VoucherID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOutOfStock
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO voucher_order (id, user_id, voucher_id, created_at) VALUES ($1, $2, $3, now())`,
		int64(intent.ID), int64(intent.UserID), int64(intent.VoucherID),
	)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	tx = nil
	return nil
}
