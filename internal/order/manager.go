// Package order turns carts into orders.
package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/currency"
	"nftstore/internal/model"
	"nftstore/internal/repository"
	"nftstore/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentCanceler cancels every open payment of an order.
type PaymentCanceler interface {
	CancelOrder(ctx context.Context, orderID uint64, status model.PaymentStatus) error
}

// Item is an ordered item priced in the currency the order was read in.
type Item struct {
	ID           uint64          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ThumbnailURI string          `json:"thumbnail_uri,omitempty"`
	IsProxy      bool            `json:"is_proxy"`
	Price        decimal.Decimal `json:"price"`
}

type Order struct {
	ID          uint64     `json:"id"`
	UserID      uint64     `json:"user_id"`
	UserAddress string     `json:"user_address"`
	OrderedAt   time.Time  `json:"ordered_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	Currency    string     `json:"currency"`
	Items       []Item     `json:"items"`
}

// Total sums the item prices.
func (o *Order) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Price)
	}
	return sum
}

type Manager struct {
	db       *gorm.DB
	orders   repository.OrderRepository
	carts    repository.CartRepository
	items    repository.ItemRepository
	users    repository.UserRepository
	currency currency.Service
	canceler PaymentCanceler

	expiration time.Duration
	now        func() time.Time
}

func NewManager(db *gorm.DB, cur currency.Service, expiration time.Duration) *Manager {
	return &Manager{
		db:         db,
		orders:     repository.NewOrderRepository(db),
		carts:      repository.NewCartRepository(db),
		items:      repository.NewItemRepository(db),
		users:      repository.NewUserRepository(db),
		currency:   cur,
		expiration: expiration,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BaseCurrency is the currency item prices are kept in.
func (m *Manager) BaseCurrency() string { return m.currency.Base() }

// SetPaymentCanceler wires the component that cancels a replaced order's
// payments. It must be set before orders are recreated.
func (m *Manager) SetPaymentCanceler(c PaymentCanceler) { m.canceler = c }

// LockUser serializes order creation for userID until the transaction in ctx ends.
func (m *Manager) LockUser(ctx context.Context, userID uint64) error {
	err := m.orders.LockUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.NotFound, "user %d not found", userID)
	}
	return err
}

// CreateOrUseOrder opens an order from the user's cart, or returns the order
// the cart is already bound to when recreate is false. The caller holds the
// user lock.
func (m *Manager) CreateOrUseOrder(ctx context.Context, userID uint64, recreate bool) (uint64, error) {
	var orderID uint64
	err := store.WithTx(ctx, m.db, func(ctx context.Context) error {
		cs, err := m.carts.FindUserSession(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.WarnContext(ctx, "cannot create order, no cart exists", "user_id", userID)
			return apperr.New(apperr.InvalidState, "cannot create order, cart empty")
		}
		if err != nil {
			return err
		}

		if cs.OrderID != nil {
			if !recreate {
				orderID = *cs.OrderID
				return nil
			}
			if m.canceler == nil {
				return errors.New("order manager has no payment canceler")
			}
			if err := m.canceler.CancelOrder(ctx, *cs.OrderID, model.PaymentCanceled); err != nil {
				return err
			}
		}

		now := m.now()
		o := &model.Order{UserID: userID, OrderedAt: now, ExpiresAt: now.Add(m.expiration)}
		if err := m.orders.Create(ctx, o); err != nil {
			return err
		}
		n, err := m.orders.CopyCartItems(ctx, o.ID, cs.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			slog.WarnContext(ctx, "cannot create order, empty cart", "user_id", userID, "cart_session", cs.SessionKey)
			return apperr.New(apperr.InvalidState, "cannot create order, cart is empty")
		}
		if err := m.carts.BindOrder(ctx, cs.ID, o.ID); err != nil {
			return err
		}
		orderID = o.ID
		return nil
	})
	return orderID, err
}

// GetOrder loads an order with its items priced in cur. With inBaseUnit the
// prices are integers in the smallest unit of cur.
func (m *Manager) GetOrder(ctx context.Context, orderID uint64, cur string, inBaseUnit bool) (*Order, error) {
	o, err := m.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "no order found with id=%d", orderID)
	}
	if err != nil {
		return nil, err
	}
	u, err := m.users.FindByID(ctx, o.UserID)
	if err != nil {
		return nil, err
	}
	ids, err := m.orders.ItemIDs(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := m.items.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &Order{
		ID:          o.ID,
		UserID:      o.UserID,
		UserAddress: u.Address,
		OrderedAt:   o.OrderedAt,
		ExpiresAt:   o.ExpiresAt,
		FinalizedAt: o.FinalizedAt,
		Currency:    cur,
		Items:       make([]Item, 0, len(items)),
	}
	for _, it := range items {
		units, err := m.currency.ConvertToCurrency(it.Price, cur)
		if err != nil {
			return nil, err
		}
		price := decimal.NewFromInt(units)
		if !inBaseUnit {
			if price, err = m.currency.ConvertFromBaseUnit(cur, units); err != nil {
				return nil, err
			}
		}
		out.Items = append(out.Items, Item{
			ID:           it.ID,
			Name:         it.Name,
			Description:  it.Description,
			ThumbnailURI: it.ThumbnailURI,
			IsProxy:      it.IsProxy,
			Price:        price,
		})
	}
	return out, nil
}

// ExtendExpiry moves the expiry to until unless it is already later.
func (m *Manager) ExtendExpiry(ctx context.Context, orderID uint64, until time.Time) error {
	return store.WithTx(ctx, m.db, func(ctx context.Context) error {
		o, err := m.orders.FindByID(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.NotFound, "no order found with id=%d", orderID)
		}
		if err != nil {
			return err
		}
		if !until.After(o.ExpiresAt) {
			return nil
		}
		return m.orders.SetExpiry(ctx, orderID, until.UTC())
	})
}

// DropCart removes the cart bound to orderID, freeing the user to start a new one.
func (m *Manager) DropCart(ctx context.Context, orderID uint64) error {
	_, err := m.carts.DropByOrderID(ctx, orderID)
	return err
}

func (m *Manager) EnsureUserCartSession(ctx context.Context, userID uint64, sessionKey string) (*model.CartSession, error) {
	return m.carts.EnsureUserSession(ctx, userID, sessionKey)
}
