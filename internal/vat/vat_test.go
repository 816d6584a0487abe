package vat

import (
	"context"
	"testing"

	"nftstore/internal/model"
	"nftstore/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func seedCountries(t *testing.T, r *Resolver) {
	t.Helper()
	nl := decimal.NewFromInt(21)
	de := decimal.NewFromInt(19)
	require.NoError(t, r.db.Create(&[]model.Country{
		{Short: "NL", VATPercentage: &nl},
		{Short: "DE", VATPercentage: &de},
		{Short: "XX"},
	}).Error)
	require.NoError(t, r.db.Create(&[]model.IPCountry{
		{IPFrom: 0x0A000000, IPTo: 0x0AFFFFFF, CountryShort: "DE"}, // 10.0.0.0/8
		{IPFrom: 0xC0A80000, IPTo: 0xC0A8FFFF, CountryShort: "XX"}, // 192.168.0.0/16
	}).Error)
}

func TestResolve(t *testing.T) {
	r := NewResolver(storetest.Open(t), "NL")
	seedCountries(t, r)
	ctx := context.Background()

	tests := []struct {
		name    string
		ip      string
		rate    string
		country string
	}{
		{"mapped country", "10.1.2.3", "0.19", "DE"},
		{"country without vat", "192.168.1.1", "0.21", "XX"},
		{"unmapped ip", "8.8.8.8", "0.21", ""},
		{"ipv6", "2001:db8::1", "0.21", ""},
		{"ipv4 mapped ipv6", "::ffff:10.0.0.1", "0.19", "DE"},
		{"garbage", "not-an-ip", "0.21", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, tt.ip)
			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tt.rate).Equal(res.Rate), res.Rate.String())
			require.Equal(t, tt.country, res.Country)
		})
	}
}

func TestResolveFailsWithoutFallbackRate(t *testing.T) {
	r := NewResolver(storetest.Open(t), "FR")
	_, err := r.Resolve(context.Background(), "8.8.8.8")
	require.Error(t, err)
}

func TestExcludeVAT(t *testing.T) {
	got := ExcludeVAT(decimal.RequireFromString("12.1"), decimal.RequireFromString("0.21"))
	require.True(t, decimal.RequireFromString("10").Equal(got))
}
