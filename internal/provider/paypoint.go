package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nftstore/internal/apperr"
	"nftstore/internal/model"
	"nftstore/internal/payment"
	"nftstore/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const onChainCurrency = "XTZ"

// PaypointDetails tells the buyer where and how to pay on chain.
type PaypointDetails struct {
	ReceiverAddress string `json:"receiver_address"`
	PaypointMessage string `json:"paypoint_message"`
	MutezAmount     int64  `json:"mutez_amount"`
}

// Paypoint opens payments on the on-chain paypoint contract. The chain
// watcher fills paid_amount; this adapter only reads it.
type Paypoint struct {
	db      *gorm.DB
	address string
}

func NewPaypoint(db *gorm.DB, address string) *Paypoint {
	return &Paypoint{db: db, address: address}
}

func (*Paypoint) Name() model.PaymentProvider { return model.ProviderPaypoint }

func (p *Paypoint) CreateDetails(ctx context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	if req.Currency != onChainCurrency {
		return nil, apperr.New(apperr.BadRequest, "currency (%s) is not supported for paypoint", req.Currency)
	}
	d, err := p.Open(ctx, req.PaymentID, req.AmountUnits)
	if err != nil {
		return nil, err
	}
	return &payment.Details{Data: d}, nil
}

// Open registers a payment of mutez under externalID. The row is written in
// the transaction carried by ctx, if any.
func (p *Paypoint) Open(ctx context.Context, externalID string, mutez int64) (*PaypointDetails, error) {
	if p.address == "" {
		return nil, apperr.New(apperr.NotImplemented, "paypoint payment provider not supported by this API instance")
	}
	row := &model.PaypointPayment{
		ExternalID:      externalID,
		ReceiverAddress: p.address,
		Message:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:          mutez,
	}
	if err := store.Conn(ctx, p.db).Create(row).Error; err != nil {
		return nil, fmt.Errorf("open paypoint payment: %w", err)
	}
	return &PaypointDetails{
		ReceiverAddress: row.ReceiverAddress,
		PaypointMessage: row.Message,
		MutezAmount:     row.Amount,
	}, nil
}

// Cancel is idempotent: canceling a canceled payment succeeds.
func (p *Paypoint) Cancel(ctx context.Context, ref string) error {
	conn := store.Conn(ctx, p.db)
	res := conn.Model(&model.PaypointPayment{}).
		Where("external_id = ? AND canceled = ?", ref, false).
		Update("canceled", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := conn.Model(&model.PaypointPayment{}).Where("external_id = ?", ref).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown paypoint payment %s", ref)
	}
	return nil
}

// PaidInFull reports whether the chain watcher saw the full amount arrive.
func (p *Paypoint) PaidInFull(ctx context.Context, externalID string) (bool, error) {
	var row model.PaypointPayment
	err := store.Conn(ctx, p.db).Where("external_id = ?", externalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !row.Canceled && row.PaidAmount >= row.Amount, nil
}

func (p *Paypoint) PollStatus(ctx context.Context, pending []payment.Pending) ([]payment.StatusUpdate, error) {
	var out []payment.StatusUpdate
	for _, pp := range pending {
		paid, err := p.PaidInFull(ctx, pp.Ref)
		if err != nil {
			return out, err
		}
		if paid {
			out = append(out, payment.StatusUpdate{PaymentID: pp.PaymentID, Status: model.PaymentSucceeded})
		}
	}
	return out, nil
}
