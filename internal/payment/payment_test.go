package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/checkout"
	"nftstore/internal/currency"
	"nftstore/internal/delivery"
	"nftstore/internal/model"
	"nftstore/internal/order"
	"nftstore/internal/payment"
	"nftstore/internal/store/storetest"
	"nftstore/internal/vat"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	name       model.PaymentProvider
	external   bool
	detailsErr error
	cancelErr  error

	mu       sync.Mutex
	canceled []string
}

func (f *fakeProvider) Name() model.PaymentProvider { return f.name }

func (f *fakeProvider) CreateDetails(_ context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	d := &payment.Details{Data: map[string]any{"amount_units": req.AmountUnits}}
	if f.external {
		d.ExternalID = "ext-" + req.PaymentID
	}
	return d, nil
}

func (f *fakeProvider) Cancel(_ context.Context, ref string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, ref)
	return nil
}

func (f *fakeProvider) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

type fixedVAT struct{}

func (fixedVAT) Resolve(context.Context, string) (vat.Result, error) {
	return vat.Result{Rate: decimal.RequireFromString("0.21"), Country: "NL"}, nil
}

type env struct {
	db  *gorm.DB
	o   *payment.Orchestrator
	mem *delivery.Memory
}

func newEnv(t *testing.T, providers ...payment.Provider) *env {
	t.Helper()
	db := storetest.Open(t)
	cur, err := currency.NewStatic("USD", map[string]string{"EUR": "0.5", "XTZ": "2"}, nil)
	require.NoError(t, err)
	orders := order.NewManager(db, cur, 30*time.Minute)
	mem := delivery.NewMemory()
	o := payment.NewOrchestrator(payment.Deps{
		DB:              db,
		Orders:          orders,
		Providers:       payment.NewRegistry(providers...),
		VAT:             fixedVAT{},
		Currency:        cur,
		Finalizer:       checkout.NewFinalizer(db, orders, mem),
		Delivery:        mem,
		PromiseDeadline: 2 * time.Hour,
	})
	return &env{db: db, o: o, mem: mem}
}

// buyer seeds a user whose cart holds one item priced 10.00 USD.
func (e *env) buyer(t *testing.T, address string) (*model.User, *model.Item) {
	t.Helper()
	u := storetest.SeedUser(t, e.db, address)
	it := storetest.SeedItem(t, e.db, "item of "+address, 1000)
	storetest.SeedCart(t, e.db, u.ID, it.ID)
	return u, it
}

func (e *env) status(t *testing.T, paymentID string) model.PaymentStatus {
	t.Helper()
	var p model.Payment
	require.NoError(t, e.db.Where("payment_id = ?", paymentID).First(&p).Error)
	return p.Status
}

func create(t *testing.T, e *env, u *model.User, provider model.PaymentProvider, recreate bool) *payment.Intent {
	t.Helper()
	in, err := e.o.CreatePayment(context.Background(), payment.CreateRequest{
		User:          *u,
		Provider:      provider,
		Currency:      "USD",
		ClientIP:      "10.0.0.1",
		RecreateOrder: recreate,
	})
	require.NoError(t, err)
	return in
}

func TestCreatePaymentPricesIntent(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest})
	u, it := e.buyer(t, "tz1buyer")

	in := create(t, e, u, model.ProviderTest, false)
	require.Equal(t, "10", in.Amount.String())
	require.Equal(t, "8.26", in.AmountExclVAT.String())
	require.Equal(t, "0.21", in.VATRate.String())
	require.Len(t, in.Items, 1)
	require.Equal(t, it.ID, in.Items[0].ID)
	require.Equal(t, map[string]any{"amount_units": int64(1000)}, in.Details)
	require.Equal(t, model.PaymentCreated, e.status(t, in.PaymentID))
}

func TestCreatePaymentRejectsBadInput(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest})
	u, _ := e.buyer(t, "tz1buyer")
	ctx := context.Background()

	_, err := e.o.CreatePayment(ctx, payment.CreateRequest{User: *u, Provider: model.ProviderCard, Currency: "USD"})
	require.True(t, apperr.IsKind(err, apperr.BadRequest))

	_, err = e.o.CreatePayment(ctx, payment.CreateRequest{User: *u, Provider: model.ProviderTest, Currency: "JPY"})
	require.True(t, apperr.IsKind(err, apperr.BadRequest))
}

func TestProviderFailureLeavesNothingBehind(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest, detailsErr: errors.New("gateway down")})
	u, _ := e.buyer(t, "tz1buyer")

	_, err := e.o.CreatePayment(context.Background(), payment.CreateRequest{User: *u, Provider: model.ProviderTest, Currency: "USD"})
	require.True(t, apperr.IsKind(err, apperr.Provider))

	var orders, payments int64
	require.NoError(t, e.db.Model(&model.Order{}).Count(&orders).Error)
	require.NoError(t, e.db.Model(&model.Payment{}).Count(&payments).Error)
	require.Zero(t, orders)
	require.Zero(t, payments)
}

func TestSameProviderReplacesOpenIntent(t *testing.T) {
	fp := &fakeProvider{name: model.ProviderTest}
	e := newEnv(t, fp)
	u, _ := e.buyer(t, "tz1buyer")

	first := create(t, e, u, model.ProviderTest, false)
	second := create(t, e, u, model.ProviderTest, false)

	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, model.PaymentCanceled, e.status(t, first.PaymentID))
	require.Equal(t, model.PaymentCreated, e.status(t, second.PaymentID))
	require.Equal(t, []string{first.PaymentID}, fp.Canceled())
}

func TestRecreateOrderCancelsEarlierIntents(t *testing.T) {
	test := &fakeProvider{name: model.ProviderTest}
	card := &fakeProvider{name: model.ProviderCard, external: true}
	e := newEnv(t, test, card)
	u, _ := e.buyer(t, "tz1buyer")

	a := create(t, e, u, model.ProviderTest, false)
	b := create(t, e, u, model.ProviderCard, false)
	require.Equal(t, a.OrderID, b.OrderID)

	c := create(t, e, u, model.ProviderTest, true)
	require.NotEqual(t, a.OrderID, c.OrderID)
	require.Equal(t, model.PaymentCanceled, e.status(t, a.PaymentID))
	require.Equal(t, model.PaymentCanceled, e.status(t, b.PaymentID))
	require.Equal(t, model.PaymentCreated, e.status(t, c.PaymentID))
	require.Equal(t, []string{"ext-" + b.PaymentID}, card.Canceled())
}

func TestConcurrentCreatePaymentKeepsOneOrder(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest})
	u, _ := e.buyer(t, "tz1buyer")

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.o.CreatePayment(context.Background(), payment.CreateRequest{
				User: *u, Provider: model.ProviderTest, Currency: "USD",
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var orders, open int64
	require.NoError(t, e.db.Model(&model.Order{}).Count(&orders).Error)
	require.NoError(t, e.db.Model(&model.Payment{}).
		Where("status NOT IN ?", model.FinalPaymentStatuses).Count(&open).Error)
	require.EqualValues(t, 1, orders)
	require.EqualValues(t, 1, open)
}

func TestFinalStatusesAreNeverOverwritten(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	o := storetest.SeedOrder(t, e.db, u.ID, time.Now().Add(time.Hour))

	for _, final := range model.FinalPaymentStatuses {
		p := storetest.SeedPayment(t, e.db, o.ID, model.ProviderTest, final)
		for _, next := range []model.PaymentStatus{model.PaymentCreated, model.PaymentFailed, model.PaymentCanceled} {
			require.NoError(t, e.o.UpdatePaymentStatus(ctx, p.PaymentID, next, false))
			require.Equal(t, final, e.status(t, p.PaymentID))
		}
	}
}

func TestPromisedTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	o := storetest.SeedOrder(t, e.db, u.ID, time.Now().Add(time.Hour))

	created := storetest.SeedPayment(t, e.db, o.ID, model.ProviderTest, model.PaymentCreated)
	require.NoError(t, e.o.UpdatePaymentStatus(ctx, created.PaymentID, model.PaymentPromised, false))
	require.Equal(t, model.PaymentPromised, e.status(t, created.PaymentID))

	for _, from := range []model.PaymentStatus{model.PaymentProcessing, model.PaymentSucceeded, model.PaymentCanceled} {
		p := storetest.SeedPayment(t, e.db, o.ID, model.ProviderPaypoint, from)
		err := e.o.UpdatePaymentStatus(ctx, p.PaymentID, model.PaymentPromised, false)
		require.True(t, apperr.IsKind(err, apperr.InvalidState), "from %s", from)
		require.Equal(t, from, e.status(t, p.PaymentID))
	}
}

func TestUpdateUnknownPayment(t *testing.T) {
	e := newEnv(t)
	err := e.o.UpdatePaymentStatus(context.Background(), "missing", model.PaymentFailed, false)
	require.True(t, apperr.IsKind(err, apperr.NotFound))

	err = e.o.UpdatePaymentStatus(context.Background(), "missing", "paid", false)
	require.True(t, apperr.IsKind(err, apperr.BadRequest))
}

func TestSucceededPaymentDeliversOrder(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest}, &fakeProvider{name: model.ProviderCard})
	ctx := context.Background()
	u, it := e.buyer(t, "tz1buyer")

	paid := create(t, e, u, model.ProviderTest, false)
	other := create(t, e, u, model.ProviderCard, false)
	require.NoError(t, e.o.UpdatePaymentStatus(ctx, paid.PaymentID, model.PaymentSucceeded, false))

	require.Equal(t, model.PaymentCanceled, e.status(t, other.PaymentID))
	var owned model.UserItem
	require.NoError(t, e.db.Where("user_id = ?", u.ID).First(&owned).Error)
	require.Equal(t, it.ID, owned.ItemID)

	info, err := e.o.GetOrderInfo(ctx, u.ID, paid.PaymentID)
	require.NoError(t, err)
	require.Equal(t, model.OrderDelivering, info.OrderStatus)
	require.Len(t, info.PaymentIntents, 2)
	d := info.Delivery[it.ID]
	require.Equal(t, model.DeliveryInitiating, d.Status)
	require.NotEmpty(t, d.TransferOperationID)
	require.Nil(t, d.ProxiedItem)

	e.mem.SetState(d.TransferOperationID, delivery.StateConfirmed)
	info, err = e.o.GetOrderInfo(ctx, u.ID, paid.PaymentID)
	require.NoError(t, err)
	require.Equal(t, model.OrderDelivered, info.OrderStatus)

	// a repeated success report does not finalize again
	require.NoError(t, e.o.UpdatePaymentStatus(ctx, paid.PaymentID, model.PaymentSucceeded, false))
	require.Len(t, e.mem.Sent("tz1buyer"), 1)
}

func TestOrderInfoShowsProxiedItem(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest})
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	proxy, backing := storetest.SeedProxy(t, e.db, "mystery", 700, 1)
	storetest.SeedCart(t, e.db, u.ID, proxy.ID)

	in := create(t, e, u, model.ProviderTest, false)
	require.NoError(t, e.o.UpdatePaymentStatus(ctx, in.PaymentID, model.PaymentSucceeded, false))

	info, err := e.o.GetOrderInfo(ctx, u.ID, in.PaymentID)
	require.NoError(t, err)
	d := info.Delivery[proxy.ID]
	require.NotNil(t, d.ProxiedItem)
	require.Equal(t, backing[0].ID, d.ProxiedItem.ID)
}

func TestOrderInfoUsesFurthestStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	o := storetest.SeedOrder(t, e.db, u.ID, time.Now().Add(time.Hour))
	failed := storetest.SeedPayment(t, e.db, o.ID, model.ProviderTest, model.PaymentFailed)

	info, err := e.o.GetOrderInfo(ctx, u.ID, failed.PaymentID)
	require.NoError(t, err)
	require.Equal(t, model.OrderPendingPayment, info.OrderStatus)

	storetest.SeedPayment(t, e.db, o.ID, model.ProviderCard, model.PaymentTimedOut)
	info, err = e.o.GetOrderInfo(ctx, u.ID, failed.PaymentID)
	require.NoError(t, err)
	require.Equal(t, model.OrderCanceled, info.OrderStatus)

	stranger := storetest.SeedUser(t, e.db, "tz1stranger")
	_, err = e.o.GetOrderInfo(ctx, stranger.ID, failed.PaymentID)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestPromiseToPay(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderPaypoint})
	ctx := context.Background()
	u, _ := e.buyer(t, "tz1buyer")
	in := create(t, e, u, model.ProviderPaypoint, false)

	stranger := storetest.SeedUser(t, e.db, "tz1stranger")
	err := e.o.PromiseToPay(ctx, stranger.ID, in.PaymentID)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
	require.Equal(t, model.PaymentCreated, e.status(t, in.PaymentID))

	require.NoError(t, e.o.PromiseToPay(ctx, u.ID, in.PaymentID))
	require.Equal(t, model.PaymentPromised, e.status(t, in.PaymentID))

	var ord model.Order
	require.NoError(t, e.db.First(&ord, in.OrderID).Error)
	require.WithinDuration(t, time.Now().Add(2*time.Hour), ord.ExpiresAt, time.Minute)
	var carts int64
	require.NoError(t, e.db.Model(&model.CartSession{}).Where("user_id = ?", u.ID).Count(&carts).Error)
	require.Zero(t, carts)
}

func TestPromiseToPayAfterProcessingIsQuiet(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderPaypoint})
	ctx := context.Background()
	u, _ := e.buyer(t, "tz1buyer")
	in := create(t, e, u, model.ProviderPaypoint, false)

	require.NoError(t, e.o.UpdatePaymentStatus(ctx, in.PaymentID, model.PaymentProcessing, false))
	require.NoError(t, e.o.PromiseToPay(ctx, u.ID, in.PaymentID))
	require.Equal(t, model.PaymentProcessing, e.status(t, in.PaymentID))
}

func TestCancelRollsBackWhenProviderRefuses(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderCard, cancelErr: errors.New("already captured")})
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	o := storetest.SeedOrder(t, e.db, u.ID, time.Now().Add(time.Hour))
	p := storetest.SeedPayment(t, e.db, o.ID, model.ProviderCard, model.PaymentCreated)

	err := e.o.CancelOrderPayment(ctx, o.ID, model.ProviderCard, model.PaymentCanceled)
	require.True(t, apperr.IsKind(err, apperr.Provider))
	require.Equal(t, model.PaymentCreated, e.status(t, p.PaymentID))

	err = e.o.CancelOrderPayment(ctx, o.ID, model.ProviderCard, model.PaymentFailed)
	require.True(t, apperr.IsKind(err, apperr.BadRequest))
}

func TestCancelOrderSkipsClosedIntents(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderTest})
	ctx := context.Background()
	u := storetest.SeedUser(t, e.db, "tz1buyer")
	o := storetest.SeedOrder(t, e.db, u.ID, time.Now().Add(time.Hour))
	open := storetest.SeedPayment(t, e.db, o.ID, model.ProviderTest, model.PaymentPromised)
	done := storetest.SeedPayment(t, e.db, o.ID, model.ProviderWert, model.PaymentSucceeded)

	require.NoError(t, e.o.CancelOrder(ctx, o.ID, model.PaymentTimedOut))
	require.Equal(t, model.PaymentTimedOut, e.status(t, open.PaymentID))
	require.Equal(t, model.PaymentSucceeded, e.status(t, done.PaymentID))

	err := e.o.CancelOrderPayment(ctx, o.ID, model.ProviderTest, model.PaymentCanceled)
	require.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestHandleWebhook(t *testing.T) {
	e := newEnv(t, &fakeProvider{name: model.ProviderCard, external: true})
	ctx := context.Background()
	u, it := e.buyer(t, "tz1buyer")
	in := create(t, e, u, model.ProviderCard, false)
	ext := "ext-" + in.PaymentID

	err := e.o.HandleWebhook(ctx, payment.WebhookEvent{Type: "customer.created", ObjectID: ext})
	require.True(t, apperr.IsKind(err, apperr.BadRequest))

	require.NoError(t, e.o.HandleWebhook(ctx, payment.WebhookEvent{Type: "payment_intent.succeeded", ObjectID: "pi_unknown"}))

	require.NoError(t, e.o.HandleWebhook(ctx, payment.WebhookEvent{Type: "payment_intent.processing", ObjectID: ext}))
	require.Equal(t, model.PaymentProcessing, e.status(t, in.PaymentID))

	require.NoError(t, e.o.HandleWebhook(ctx, payment.WebhookEvent{Type: "payment_intent.succeeded", ObjectID: ext}))
	e.o.Wait()
	require.Equal(t, model.PaymentSucceeded, e.status(t, in.PaymentID))
	require.Equal(t, []uint64{it.ID}, e.mem.Sent("tz1buyer"))
}

func TestWebhookStatus(t *testing.T) {
	tests := map[string]model.PaymentStatus{
		"payment_intent.succeeded":              model.PaymentSucceeded,
		"checkout.session.completed":            model.PaymentSucceeded,
		"payment_intent.processing":             model.PaymentProcessing,
		"payment_intent.canceled":               model.PaymentCanceled,
		"checkout.session.expired":              model.PaymentCanceled,
		"payment_intent.payment_failed":         model.PaymentFailed,
		"checkout.session.async_payment_failed": model.PaymentFailed,
		"payment_intent.created":                model.PaymentCreated,
	}
	for typ, want := range tests {
		got, err := payment.WebhookStatus(typ)
		require.NoError(t, err, typ)
		require.Equal(t, want, got, typ)
	}
}

type failingQueue struct{ calls int }

func (q *failingQueue) PublishFinalize(context.Context, uint64) error {
	q.calls++
	return errors.New("redis down")
}

func TestAsyncFinalizeFallsBackWhenQueueFails(t *testing.T) {
	db := storetest.Open(t)
	cur, err := currency.NewStatic("USD", nil, nil)
	require.NoError(t, err)
	orders := order.NewManager(db, cur, 30*time.Minute)
	mem := delivery.NewMemory()
	q := &failingQueue{}
	o := payment.NewOrchestrator(payment.Deps{
		DB:        db,
		Orders:    orders,
		Providers: payment.NewRegistry(),
		VAT:       fixedVAT{},
		Currency:  cur,
		Finalizer: checkout.NewFinalizer(db, orders, mem),
		Delivery:  mem,
	}, payment.WithFinalizeQueue(q))

	u := storetest.SeedUser(t, db, "tz1buyer")
	it := storetest.SeedItem(t, db, "a", 100)
	ord := storetest.SeedOrder(t, db, u.ID, time.Now().Add(time.Hour), it.ID)
	p := storetest.SeedPayment(t, db, ord.ID, model.ProviderTest, model.PaymentCreated)

	require.NoError(t, o.UpdatePaymentStatus(context.Background(), p.PaymentID, model.PaymentSucceeded, true))
	o.Wait()
	require.Equal(t, 1, q.calls)
	require.Equal(t, []uint64{it.ID}, mem.Sent("tz1buyer"))
}
