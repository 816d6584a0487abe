// Package storetest opens throwaway databases for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory database private to t. It has a single
// connection, so concurrent transactions run one after another.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, store.Migrate(db))
	return db
}

func SeedUser(t testing.TB, db *gorm.DB, address string) *model.User {
	t.Helper()
	u := &model.User{Address: address}
	require.NoError(t, db.Create(u).Error)
	return u
}

func SeedItem(t testing.TB, db *gorm.DB, name string, price int64) *model.Item {
	t.Helper()
	it := &model.Item{Name: name, Price: price}
	require.NoError(t, db.Create(it).Error)
	return it
}

// SeedProxy creates a proxy item backed by n fresh concrete items.
func SeedProxy(t testing.TB, db *gorm.DB, name string, price int64, n int) (*model.Item, []model.Item) {
	t.Helper()
	proxy := &model.Item{Name: name, Price: price, IsProxy: true}
	require.NoError(t, db.Create(proxy).Error)
	backing := make([]model.Item, 0, n)
	for i := 0; i < n; i++ {
		it := SeedItem(t, db, fmt.Sprintf("%s #%d", name, i+1), price)
		require.NoError(t, db.Create(&model.ProxyUnfold{ProxyItemID: proxy.ID, UnfoldItemID: it.ID}).Error)
		backing = append(backing, *it)
	}
	return proxy, backing
}

// SeedCart gives the user a cart holding items and returns it.
func SeedCart(t testing.TB, db *gorm.DB, userID uint64, items ...uint64) *model.CartSession {
	t.Helper()
	cs := &model.CartSession{SessionKey: uuid.NewString(), UserID: &userID}
	require.NoError(t, db.Create(cs).Error)
	for _, id := range items {
		require.NoError(t, db.Create(&model.CartItem{CartSessionID: cs.ID, ItemID: id}).Error)
	}
	return cs
}

// SeedOrder inserts an order holding items without going through a cart.
func SeedOrder(t testing.TB, db *gorm.DB, userID uint64, expiresAt time.Time, items ...uint64) *model.Order {
	t.Helper()
	o := &model.Order{UserID: userID, OrderedAt: time.Now().UTC(), ExpiresAt: expiresAt.UTC()}
	require.NoError(t, db.Create(o).Error)
	for _, id := range items {
		require.NoError(t, db.Create(&model.OrderItem{OrderID: o.ID, ItemID: id}).Error)
	}
	return o
}

// SeedPayment inserts a payment row in the given status.
func SeedPayment(t testing.TB, db *gorm.DB, orderID uint64, provider model.PaymentProvider, status model.PaymentStatus) *model.Payment {
	t.Helper()
	p := &model.Payment{
		PaymentID: uuid.NewString(),
		OrderID:   orderID,
		Provider:  provider,
		Status:    status,
		Currency:  "USD",
	}
	require.NoError(t, db.WithContext(context.Background()).Create(p).Error)
	return p
}
