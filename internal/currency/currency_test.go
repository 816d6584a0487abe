package currency

import (
	"context"
	"testing"
	"time"

	"nftstore/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStatic(t *testing.T) *Static {
	t.Helper()
	s, err := NewStatic("USD", map[string]string{"EUR": "0.5", "XTZ": "2"}, nil)
	require.NoError(t, err)
	return s
}

func TestConvertToCurrency(t *testing.T) {
	s := newTestStatic(t)

	tests := []struct {
		currency string
		base     int64
		want     int64
	}{
		{"USD", 1000, 1000},
		{"EUR", 1000, 500},
		{"XTZ", 1000, 20_000_000}, // $10 -> 20 XTZ -> mutez
		{"EUR", 1, 1},             // half a cent rounds away from zero
	}
	for _, tt := range tests {
		got, err := s.ConvertToCurrency(tt.base, tt.currency)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.currency)
	}
}

func TestConvertRoundTrip(t *testing.T) {
	s := newTestStatic(t)

	mutez, err := s.ConvertToCurrency(1234, "XTZ")
	require.NoError(t, err)
	back, err := s.ConvertFromCurrency(mutez, "XTZ")
	require.NoError(t, err)
	require.EqualValues(t, 1234, back)
}

func TestConvertFromBaseUnit(t *testing.T) {
	s := newTestStatic(t)

	got, err := s.ConvertFromBaseUnit("XTZ", 1_500_000)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1.5").Equal(got))

	got, err = s.ConvertFromBaseUnit("USD", 1000)
	require.NoError(t, err)
	require.Equal(t, "10", got.String())
}

func TestUnsupportedCurrency(t *testing.T) {
	s := newTestStatic(t)

	require.False(t, s.Supported("GBP"))
	_, err := s.ConvertToCurrency(100, "GBP")
	require.True(t, apperr.IsKind(err, apperr.BadRequest))
	_, err = s.RatesAt(context.Background(), time.Now(), "JPY")
	require.True(t, apperr.IsKind(err, apperr.BadRequest))
}

func TestNewStaticRejectsBadConfig(t *testing.T) {
	_, err := NewStatic("USD", map[string]string{"EUR": "-1"}, nil)
	require.Error(t, err)
	_, err = NewStatic("USD", map[string]string{"DOGE": "3"}, nil)
	require.Error(t, err)
	_, err = NewStatic("USD", nil, map[string]string{"XTZ": "x"})
	require.Error(t, err)

	s, err := NewStatic("usd", map[string]string{"doge": "3"}, map[string]string{"DOGE": "8"})
	require.NoError(t, err)
	d, err := s.Decimals("DOGE")
	require.NoError(t, err)
	require.EqualValues(t, 8, d)
}
