package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"nftstore/internal/apperr"
	"nftstore/internal/currency"
	"nftstore/internal/model"
	"nftstore/internal/payment"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type SimplexConfig struct {
	APIURL      string
	APIKey      string
	PublicKey   string
	WalletID    string
	AllowedFiat []string
}

type SimplexDetails struct {
	PaymentID    string `json:"payment_id"`
	OrderID      string `json:"order_id"`
	PublicAPIKey string `json:"public_api_key"`
}

// Simplex sells a card-funded deposit to the buyer through fiat gateway B.
// The gateway cannot cancel payments; outcomes are read from its event feed.
type Simplex struct {
	cfg      SimplexConfig
	client   *http.Client
	limiter  *rate.Limiter
	currency currency.Service
}

func NewSimplex(cfg SimplexConfig, cur currency.Service) *Simplex {
	return &Simplex{
		cfg:      cfg,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		currency: cur,
	}
}

func (*Simplex) Name() model.PaymentProvider { return model.ProviderSimplex }

func (s *Simplex) configured() bool {
	return s.cfg.APIURL != "" && s.cfg.APIKey != "" && s.cfg.WalletID != ""
}

func (s *Simplex) CreateDetails(ctx context.Context, req payment.DetailsRequest) (*payment.Details, error) {
	if !s.configured() {
		return nil, apperr.New(apperr.NotImplemented, "simplex payment provider not supported by this API instance")
	}
	if !slices.Contains(s.cfg.AllowedFiat, req.Currency) {
		return nil, apperr.New(apperr.BadRequest, "requested fiat (%s) is not supported by Simplex", req.Currency)
	}
	decimals, err := s.currency.Decimals(req.Currency)
	if err != nil {
		return nil, err
	}
	amount, _ := req.Amount.Round(decimals).Float64()
	endUser := fmt.Sprintf("%d", req.User.ID)

	var quote struct {
		QuoteID string `json:"quote_id"`
	}
	err = s.call(ctx, http.MethodPost, "/wallet/merchant/v2/quote", map[string]any{
		"end_user_id":        endUser,
		"digital_currency":   "USD-DEPOSIT",
		"fiat_currency":      req.Currency,
		"requested_currency": req.Currency,
		"requested_amount":   amount,
		"wallet_id":          s.cfg.WalletID,
		"client_ip":          req.ClientIP,
		"payment_methods":    []string{"credit_card"},
	}, &quote)
	if err != nil {
		return nil, fmt.Errorf("simplex quote: %w", err)
	}

	gatewayPaymentID := uuid.NewString()
	gatewayOrderID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	installDate := now
	if !req.User.CreatedAt.IsZero() {
		installDate = req.User.CreatedAt.UTC().Format(time.RFC3339)
	}
	var resp struct {
		IsKYCUpdateRequired bool `json:"is_kyc_update_required"`
	}
	err = s.call(ctx, http.MethodPost, "/wallet/merchant/v2/payments/partner/data", map[string]any{
		"account_details": map[string]any{
			"app_provider_id":  s.cfg.WalletID,
			"app_version_id":   "1.0.0",
			"app_end_user_id":  endUser,
			"app_install_date": installDate,
			"email":            "",
			"phone":            "",
			"signup_login":     map[string]any{"timestamp": now, "ip": req.ClientIP},
		},
		"transaction_details": map[string]any{
			"payment_details": map[string]any{
				"quote_id":   quote.QuoteID,
				"payment_id": gatewayPaymentID,
				"order_id":   gatewayOrderID,
				"destination_wallet": map[string]any{
					"currency": "USD-DEPOSIT",
					"address":  req.User.Address,
					"tag":      "",
				},
				"original_http_ref_url": "",
			},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("simplex payment request: %w", err)
	}
	if !resp.IsKYCUpdateRequired {
		return nil, apperr.New(apperr.Provider, "simplex payment request succeeded but response unsupported")
	}

	return &payment.Details{
		ExternalID: gatewayPaymentID,
		Data: SimplexDetails{
			PaymentID:    gatewayPaymentID,
			OrderID:      gatewayOrderID,
			PublicAPIKey: s.cfg.PublicKey,
		},
	}, nil
}

// Cancel is a no-op: the gateway has no cancel call and an abandoned payment
// simply never produces an approval event.
func (*Simplex) Cancel(context.Context, string) error { return nil }

type simplexEvent struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Payment struct {
		ID string `json:"id"`
	} `json:"payment"`
}

func simplexStatus(name string) (model.PaymentStatus, bool) {
	switch name {
	case "payment_simplexcc_approved":
		return model.PaymentSucceeded, true
	case "payment_simplexcc_declined":
		return model.PaymentFailed, true
	default:
		return "", false
	}
}

// PollStatus reads the gateway event feed. The last event of a payment
// decides its status; Ack deletes all of that payment's events.
func (s *Simplex) PollStatus(ctx context.Context, pending []payment.Pending) ([]payment.StatusUpdate, error) {
	if len(pending) == 0 || !s.configured() {
		return nil, nil
	}
	var feed struct {
		Events []simplexEvent `json:"events"`
	}
	if err := s.call(ctx, http.MethodGet, "/wallet/merchant/v2/events", nil, &feed); err != nil {
		return nil, fmt.Errorf("simplex events: %w", err)
	}

	byPayment := map[string][]simplexEvent{}
	for _, ev := range feed.Events {
		byPayment[ev.Payment.ID] = append(byPayment[ev.Payment.ID], ev)
	}

	var out []payment.StatusUpdate
	for _, p := range pending {
		events := byPayment[p.Ref]
		if len(events) == 0 {
			continue
		}
		last := events[len(events)-1]
		status, ok := simplexStatus(last.Name)
		if !ok {
			slog.ErrorContext(ctx, "unhandled simplex event", "payment_id", p.PaymentID, "event", last.Name)
			continue
		}
		out = append(out, payment.StatusUpdate{
			PaymentID: p.PaymentID,
			Status:    status,
			Ack: func(ctx context.Context) error {
				for _, ev := range events {
					if err := s.call(ctx, http.MethodDelete, "/wallet/merchant/v2/events/"+ev.EventID, nil, nil); err != nil {
						slog.WarnContext(ctx, "simplex event delete failed", "event_id", ev.EventID, "payment_id", p.PaymentID, "error", err)
					}
				}
				return nil
			},
		})
	}
	return out, nil
}

func (s *Simplex) call(ctx context.Context, method, path string, body, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "ApiKey "+s.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.WarnContext(ctx, "simplex api error", "path", path, "status", resp.StatusCode, "body", string(msg))
		return fmt.Errorf("simplex %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
