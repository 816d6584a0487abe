// Package currency converts between the base accounting currency and the
// currencies payments are made in. Amounts named "units" are integers in the
// smallest unit of their currency (cents, mutez).
package currency

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nftstore/internal/apperr"

	"github.com/shopspring/decimal"
)

type Service interface {
	Base() string
	Supported(currency string) bool
	Decimals(currency string) (int32, error)
	// ConvertToCurrency converts base currency units into units of currency.
	ConvertToCurrency(baseUnits int64, currency string) (int64, error)
	// ConvertFromCurrency converts units of currency into base currency units.
	ConvertFromCurrency(units int64, currency string) (int64, error)
	// ConvertFromBaseUnit turns units of currency into a decimal amount of it.
	ConvertFromBaseUnit(currency string, units int64) (decimal.Decimal, error)
	// RatesAt returns how much of currency one base currency bought at ts.
	RatesAt(ctx context.Context, ts time.Time, currency string) (decimal.Decimal, error)
}

var defaultDecimals = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"XTZ": 6,
}

// Static serves a fixed rate table.
type Static struct {
	base     string
	rates    map[string]decimal.Decimal
	decimals map[string]int32
}

// NewStatic builds a rate table. rates and decimals are keyed by currency code
// and parsed from their configuration string form.
func NewStatic(base string, rates, decimals map[string]string) (*Static, error) {
	s := &Static{
		base:     strings.ToUpper(base),
		rates:    map[string]decimal.Decimal{},
		decimals: map[string]int32{},
	}
	for k, v := range defaultDecimals {
		s.decimals[k] = v
	}
	for k, v := range decimals {
		d, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid decimals %q for %s", v, k)
		}
		s.decimals[strings.ToUpper(k)] = int32(d)
	}
	if _, ok := s.decimals[s.base]; !ok {
		return nil, fmt.Errorf("no decimals known for base currency %s", s.base)
	}

	s.rates[s.base] = decimal.NewFromInt(1)
	for k, v := range rates {
		r, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || !r.IsPositive() {
			return nil, fmt.Errorf("invalid rate %q for %s", v, k)
		}
		code := strings.ToUpper(k)
		if _, ok := s.decimals[code]; !ok {
			return nil, fmt.Errorf("no decimals known for %s", code)
		}
		s.rates[code] = r
	}
	return s, nil
}

func (s *Static) Base() string { return s.base }

func (s *Static) Supported(currency string) bool {
	_, ok := s.rates[currency]
	return ok
}

func (s *Static) Decimals(currency string) (int32, error) {
	d, ok := s.decimals[currency]
	if !ok || !s.Supported(currency) {
		return 0, apperr.New(apperr.BadRequest, "currency %s is not supported", currency)
	}
	return d, nil
}

func (s *Static) rate(currency string) (decimal.Decimal, int32, error) {
	d, err := s.Decimals(currency)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return s.rates[currency], d, nil
}

func (s *Static) ConvertToCurrency(baseUnits int64, currency string) (int64, error) {
	r, d, err := s.rate(currency)
	if err != nil {
		return 0, err
	}
	amount := decimal.New(baseUnits, -s.decimals[s.base]).Mul(r)
	return amount.Shift(d).Round(0).IntPart(), nil
}

func (s *Static) ConvertFromCurrency(units int64, currency string) (int64, error) {
	r, d, err := s.rate(currency)
	if err != nil {
		return 0, err
	}
	amount := decimal.New(units, -d).Div(r)
	return amount.Shift(s.decimals[s.base]).Round(0).IntPart(), nil
}

func (s *Static) ConvertFromBaseUnit(currency string, units int64) (decimal.Decimal, error) {
	d, err := s.Decimals(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(units, -d), nil
}

func (s *Static) RatesAt(_ context.Context, _ time.Time, currency string) (decimal.Decimal, error) {
	r, _, err := s.rate(currency)
	return r, err
}
