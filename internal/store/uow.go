package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// Conn returns the transaction active in ctx, or db when there is none.
// Every data access goes through Conn so the same function works inside and
// outside a unit of work.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}

// WithTx runs fn in a transaction. If ctx already carries one, fn joins it and
// commit/rollback is left to the outermost caller.
func WithTx(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// WithSavepoint runs fn so that its writes are undone when it fails, without
// aborting the transaction in ctx. Outside a transaction it behaves like WithTx.
func WithSavepoint(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if !InTx(ctx) {
		return WithTx(ctx, db, fn)
	}
	tx := Conn(ctx, db)
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := tx.SavePoint(name).Error; err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rbErr := tx.RollbackTo(name).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

// Detach drops the transaction from ctx, for work that must not be part of it.
func Detach(ctx context.Context) context.Context {
	if !InTx(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*gorm.DB)(nil))
}

// ForUpdate adds a row lock. Drivers without row locking (sqlite) drop it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockTable takes the exclusive lock row for name until the transaction ends.
func LockTable(ctx context.Context, db *gorm.DB, name string) error {
	if !InTx(ctx) {
		return errors.New("table lock requires a transaction")
	}
	var n int64
	return ForUpdate(Conn(ctx, db).Table("table_locks")).
		Select("1").
		Where("name = ?", name).
		Scan(&n).Error
}

// IsNotFound reports gorm's record-not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
