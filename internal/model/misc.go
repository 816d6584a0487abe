package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TableLock is a lock row; SELECT ... FOR UPDATE on it serializes access to
// the named resource across connections.
type TableLock struct {
	Name string `gorm:"primaryKey;size:64"`
}

func (TableLock) TableName() string { return "table_locks" }

const LockProxyUnfold = "proxy_unfolds"

type Country struct {
	ID            uint64           `gorm:"primaryKey;autoIncrement"`
	Short         string           `gorm:"size:8;uniqueIndex;not null"`
	VATPercentage *decimal.Decimal `gorm:"column:vat_percentage;type:decimal(8,4)"`
}

func (Country) TableName() string { return "countries" }

// IPCountry maps an inclusive IPv4 range to a country.
type IPCountry struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	IPFrom       uint32 `gorm:"not null;index"`
	IPTo         uint32 `gorm:"not null;index"`
	CountryShort string `gorm:"size:8;not null"`
}

func (IPCountry) TableName() string { return "ip_countries" }

// PaypointPayment is the on-chain paypoint's view of a payment. PaidAmount is
// written by the chain watcher.
type PaypointPayment struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt       time.Time
	ExternalID      string `gorm:"size:64;uniqueIndex;not null"`
	ReceiverAddress string `gorm:"size:128;not null"`
	Message         string `gorm:"size:128;uniqueIndex;not null"`
	Amount          int64  `gorm:"not null"`
	PaidAmount      int64  `gorm:"not null;default:0"`
	Canceled        bool   `gorm:"not null;default:false"`
}

func (PaypointPayment) TableName() string { return "paypoint_payments" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{}, &Item{}, &CartSession{}, &CartItem{},
		&Order{}, &OrderItem{}, &Payment{}, &UserItem{}, &OrderDelivery{},
		&ProxyUnfold{}, &TableLock{}, &Country{}, &IPCountry{}, &PaypointPayment{},
		&WhitelistedAddress{},
	}
}
