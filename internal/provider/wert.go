package provider

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"

	"nftstore/internal/apperr"
	"nftstore/internal/currency"
	"nftstore/internal/model"
	"nftstore/internal/payment"
)

// Wert sells the buyer XTZ for fiat and has the gateway pay our paypoint
// contract with it. Completion is therefore observed through the paypoint.
type Wert struct {
	paypoint *Paypoint
	key      ed25519.PrivateKey
	allowed  []string
	currency currency.Service
}

// NewWert parses privKeyHex, a hex ed25519 seed or full private key. An empty
// key yields an adapter that refuses to open payments.
func NewWert(pp *Paypoint, privKeyHex string, allowedFiat []string, cur currency.Service) (*Wert, error) {
	w := &Wert{paypoint: pp, allowed: allowedFiat, currency: cur}
	if privKeyHex == "" {
		return w, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("wert private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		w.key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		w.key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("wert private key: want %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return w, nil
}

func (*Wert) Name() model.PaymentProvider { return model.ProviderWert }

func (w *Wert) CreateDetails(ctx context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	if w.key == nil || w.paypoint.address == "" {
		return nil, apperr.New(apperr.NotImplemented, "wert payment provider not supported by this API instance")
	}
	if !slices.Contains(w.allowed, req.Currency) {
		return nil, apperr.New(apperr.BadRequest, "requested fiat (%s) is not supported by Wert", req.Currency)
	}

	baseUnits, err := w.currency.ConvertFromCurrency(req.AmountUnits, req.Currency)
	if err != nil {
		return nil, err
	}
	mutez, err := w.currency.ConvertToCurrency(baseUnits, onChainCurrency)
	if err != nil {
		return nil, err
	}
	commodityAmount, err := w.currency.ConvertFromBaseUnit(onChainCurrency, mutez)
	if err != nil {
		return nil, err
	}

	pp, err := w.paypoint.Open(ctx, req.PaymentID, mutez)
	if err != nil {
		return nil, err
	}
	inputData := fmt.Sprintf("{\n  \"entrypoint\": \"pay\",\n  \"value\": {\"string\":%q}\n}", pp.PaypointMessage)
	data := map[string]string{
		"address":          req.User.Address,
		"commodity":        onChainCurrency,
		"commodity_amount": commodityAmount.String(),
		"pk_id":            "key1",
		"sc_id":            hex.EncodeToString([]byte(pp.PaypointMessage)),
		"sc_address":       w.paypoint.address,
		"sc_input_data":    hex.EncodeToString([]byte(inputData)),
	}
	data["signature"] = w.sign(data)
	data["currency"] = req.Currency
	return &payment.Details{Data: map[string]any{"wert_data": data}}, nil
}

// sign signs the fields as "key:value" lines in key order.
func (w *Wert) sign(fields map[string]string) string {
	return hex.EncodeToString(ed25519.Sign(w.key, signingPayload(fields)))
}

func signingPayload(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+":"+fields[k])
	}
	return []byte(strings.Join(lines, "\n"))
}

func (w *Wert) Cancel(ctx context.Context, ref string) error {
	return w.paypoint.Cancel(ctx, ref)
}

func (w *Wert) PollStatus(ctx context.Context, pending []payment.Pending) ([]payment.StatusUpdate, error) {
	return w.paypoint.PollStatus(ctx, pending)
}
