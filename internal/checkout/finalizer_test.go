package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"nftstore/internal/currency"
	"nftstore/internal/delivery"
	"nftstore/internal/model"
	"nftstore/internal/order"
	"nftstore/internal/repository"
	"nftstore/internal/store/storetest"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestFinalizer(t *testing.T) (*Finalizer, *gorm.DB, *delivery.Memory) {
	t.Helper()
	db := storetest.Open(t)
	cur, err := currency.NewStatic("USD", nil, nil)
	require.NoError(t, err)
	mem := delivery.NewMemory()
	return NewFinalizer(db, order.NewManager(db, cur, 30*time.Minute), mem), db, mem
}

func TestFinalizeAssignsAndDelivers(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	a := storetest.SeedItem(t, db, "a", 100)
	b := storetest.SeedItem(t, db, "b", 200)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID, b.ID)
	cs := storetest.SeedCart(t, db, u.ID, a.ID, b.ID)
	require.NoError(t, db.Model(cs).Update("order_id", o.ID).Error)

	require.NoError(t, f.Finalize(ctx, o.ID))

	var owned []model.UserItem
	require.NoError(t, db.Where("user_id = ?", u.ID).Order("item_id").Find(&owned).Error)
	require.Len(t, owned, 2)
	require.Equal(t, a.ID, owned[0].ItemID)
	require.Equal(t, o.ID, owned[0].OrderID)

	rows, err := repository.NewDeliveryRepository(db).ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotNil(t, r.TransferOperationID)
		require.Equal(t, r.OrderItemID, r.TransferItemID)
	}
	require.ElementsMatch(t, []uint64{a.ID, b.ID}, mem.Sent("tz1buyer"))

	var carts int64
	require.NoError(t, db.Model(&model.CartSession{}).Where("id = ?", cs.ID).Count(&carts).Error)
	require.Zero(t, carts)

	var got model.Order
	require.NoError(t, db.First(&got, o.ID).Error)
	require.NotNil(t, got.FinalizedAt)
}

func TestFinalizeRunsOnce(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	a := storetest.SeedItem(t, db, "a", 100)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID)

	require.NoError(t, f.Finalize(ctx, o.ID))
	require.NoError(t, f.Finalize(ctx, o.ID))

	var owned int64
	require.NoError(t, db.Model(&model.UserItem{}).Where("order_id = ?", o.ID).Count(&owned).Error)
	require.EqualValues(t, 1, owned)
	require.Len(t, mem.Sent("tz1buyer"), 1)
}

func TestFinalizeUnfoldsProxy(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	proxy, backing := storetest.SeedProxy(t, db, "mystery", 500, 2)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), proxy.ID)

	require.NoError(t, f.Finalize(ctx, o.ID))

	rows, err := repository.NewDeliveryRepository(db).ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, proxy.ID, rows[0].OrderItemID)
	require.Equal(t, backing[0].ID, rows[0].TransferItemID)
	require.Equal(t, []uint64{backing[0].ID}, mem.Sent("tz1buyer"))

	var owned model.UserItem
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&owned).Error)
	require.Equal(t, backing[0].ID, owned.ItemID)
}

func TestConcurrentFinalizeNeverSharesABackingItem(t *testing.T) {
	f, db, _ := newTestFinalizer(t)
	ctx := context.Background()
	proxy, _ := storetest.SeedProxy(t, db, "mystery", 500, 3)

	const buyers = 5
	orders := make([]uint64, buyers)
	for i := range orders {
		u := storetest.SeedUser(t, db, "tz1buyer"+string(rune('a'+i)))
		orders[i] = storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), proxy.ID).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i, id := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.Finalize(ctx, id)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, repository.ErrPoolExhausted)
			failed++
		}
	}
	require.Equal(t, 2, failed)

	var claimed []model.ProxyUnfold
	require.NoError(t, db.Where("claimed = ?", true).Find(&claimed).Error)
	require.Len(t, claimed, 3)
	seen := map[uint64]bool{}
	for _, c := range claimed {
		require.NotNil(t, c.ClaimedForOrder)
		require.False(t, seen[*c.ClaimedForOrder])
		seen[*c.ClaimedForOrder] = true
	}

	var unfinalized int64
	require.NoError(t, db.Model(&model.Order{}).Where("finalized_at IS NULL").Count(&unfinalized).Error)
	require.EqualValues(t, 2, unfinalized)
}

func TestDeliverRetriesUnsentRows(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	a := storetest.SeedItem(t, db, "a", 100)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID)

	mem.SetFailure(fmt.Errorf("%w: settlement down", delivery.ErrRejected))
	require.Error(t, f.Finalize(ctx, o.ID))

	deliveries := repository.NewDeliveryRepository(db)
	unsent, err := deliveries.ListUnsent(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, unsent, 1)

	mem.SetFailure(nil)
	require.NoError(t, f.Deliver(ctx, o.ID))
	unsent, err = deliveries.ListUnsent(ctx, o.ID)
	require.NoError(t, err)
	require.Empty(t, unsent)

	// nothing left: no second transfer
	require.NoError(t, f.Deliver(ctx, o.ID))
	require.Len(t, mem.Sent("tz1buyer"), 1)
}

func TestDeliverDoesNotResendAfterLostReply(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	a := storetest.SeedItem(t, db, "a", 100)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID)

	mem.SetLostReply(true)
	err := f.Finalize(ctx, o.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, delivery.ErrRejected)
	require.Equal(t, []uint64{a.ID}, mem.Sent("tz1buyer"))

	mem.SetLostReply(false)
	require.NoError(t, f.Deliver(ctx, o.ID))
	require.Equal(t, 1, mem.Calls())
	require.Len(t, mem.Sent("tz1buyer"), 1)

	rows, err := repository.NewDeliveryRepository(db).ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].TransferOperationID)
	require.NotNil(t, rows[0].TransferAttemptedAt)
}

func TestDeliverReleasesRefusedTransfer(t *testing.T) {
	f, db, mem := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1buyer")
	a := storetest.SeedItem(t, db, "a", 100)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID)

	mem.SetFailure(fmt.Errorf("%w: status=503", delivery.ErrRejected))
	require.ErrorIs(t, f.Finalize(ctx, o.ID), delivery.ErrRejected)

	rows, err := repository.NewDeliveryRepository(db).ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].TransferAttemptedAt)
}

func TestFinalizeCountsWhitelistedAddress(t *testing.T) {
	db := storetest.Open(t)
	cur, err := currency.NewStatic("USD", nil, nil)
	require.NoError(t, err)
	orders := order.NewManager(db, cur, 30*time.Minute)
	f := NewFinalizer(db, orders, delivery.NewMemory(), WithAddressWhitelist())
	ctx := context.Background()

	listed := storetest.SeedUser(t, db, "tz1listed")
	other := storetest.SeedUser(t, db, "tz1other")
	entry := &model.WhitelistedAddress{Address: "tz1listed"}
	require.NoError(t, db.Create(entry).Error)

	a := storetest.SeedItem(t, db, "a", 100)
	b := storetest.SeedItem(t, db, "b", 100)
	c := storetest.SeedItem(t, db, "c", 100)
	first := storetest.SeedOrder(t, db, listed.ID, time.Now().Add(time.Hour), a.ID)
	second := storetest.SeedOrder(t, db, listed.ID, time.Now().Add(time.Hour), b.ID)
	unlisted := storetest.SeedOrder(t, db, other.ID, time.Now().Add(time.Hour), c.ID)

	require.NoError(t, f.Finalize(ctx, first.ID))
	require.NoError(t, f.Finalize(ctx, first.ID))
	require.NoError(t, f.Finalize(ctx, second.ID))
	require.NoError(t, f.Finalize(ctx, unlisted.ID))

	var got model.WhitelistedAddress
	require.NoError(t, db.First(&got, entry.ID).Error)
	require.Equal(t, 2, got.Claimed)
}

func TestFinalizeIgnoresWhitelistWhenDisabled(t *testing.T) {
	f, db, _ := newTestFinalizer(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, db, "tz1listed")
	entry := &model.WhitelistedAddress{Address: "tz1listed"}
	require.NoError(t, db.Create(entry).Error)
	a := storetest.SeedItem(t, db, "a", 100)
	o := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), a.ID)

	require.NoError(t, f.Finalize(ctx, o.ID))

	var got model.WhitelistedAddress
	require.NoError(t, db.First(&got, entry.ID).Error)
	require.Zero(t, got.Claimed)
}
