// Package vat resolves the VAT rate that applies to a purchase from the
// buyer's IP address.
package vat

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Result carries the rate as a fraction (0.21 for 21%) and the country the
// IP mapped to, empty when it did not map.
type Result struct {
	Rate    decimal.Decimal
	Country string
}

type Resolver struct {
	db       *gorm.DB
	fallback string
}

func NewResolver(db *gorm.DB, fallbackCountry string) *Resolver {
	return &Resolver{db: db, fallback: fallbackCountry}
}

func (r *Resolver) Resolve(ctx context.Context, clientIP string) (Result, error) {
	var res Result
	vatCountry := r.fallback

	ipNum, ok := ipv4ToNum(clientIP)
	if ok {
		var row struct {
			CountryShort string
			VATDefined   bool `gorm:"column:vat_defined"`
		}
		err := store.Conn(ctx, r.db).
			Table("ip_countries").
			Select("ip_countries.country_short, countries.vat_percentage IS NOT NULL AS vat_defined").
			Joins("LEFT JOIN countries ON countries.short = ip_countries.country_short").
			Where("ip_countries.ip_from <= ? AND ip_countries.ip_to >= ?", ipNum, ipNum).
			Limit(1).
			Scan(&row).Error
		if err != nil {
			return res, fmt.Errorf("ip country lookup: %w", err)
		}
		res.Country = row.CountryShort
		switch {
		case row.CountryShort == "":
			slog.WarnContext(ctx, "unmapped country for ip address, using fallback", "client_ip", clientIP, "fallback", r.fallback)
		case !row.VATDefined:
			slog.WarnContext(ctx, "unmapped vat for country, using fallback", "country", row.CountryShort, "fallback", r.fallback)
		default:
			vatCountry = row.CountryShort
		}
	} else {
		slog.WarnContext(ctx, "client ip is not an ipv4 address, using fallback vat country", "client_ip", clientIP, "fallback", r.fallback)
	}

	rate, err := r.countryRate(ctx, vatCountry)
	if err != nil {
		return res, err
	}
	res.Rate = rate
	return res, nil
}

func (r *Resolver) countryRate(ctx context.Context, short string) (decimal.Decimal, error) {
	var c model.Country
	err := store.Conn(ctx, r.db).Where("short = ?", short).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && c.VATPercentage == nil) {
		return decimal.Zero, fmt.Errorf("unmapped vat rate for country %q", short)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return c.VATPercentage.Div(decimal.NewFromInt(100)), nil
}

// ExcludeVAT returns amount without the VAT included in it.
func ExcludeVAT(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Div(decimal.NewFromInt(1).Add(rate))
}

func ipv4ToNum(s string) (uint32, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), true
}
