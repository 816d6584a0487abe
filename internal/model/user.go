package model

import "time"

type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// Address is the wallet purchased items are transferred to.
	Address string `gorm:"size:128;uniqueIndex;not null" json:"address"`
}

func (User) TableName() string { return "users" }

// WhitelistedAddress counts the purchases made from a wallet on the
// pre-sale whitelist.
type WhitelistedAddress struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Address string `gorm:"size:128;uniqueIndex;not null"`
	Claimed int    `gorm:"not null;default:0"`
}

func (WhitelistedAddress) TableName() string { return "whitelisted_wallet_addresses" }

// CartSession is a cart. OrderID binds it to the order opened from it.
type CartSession struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt  time.Time
	SessionKey string  `gorm:"size:64;uniqueIndex;not null"`
	UserID     *uint64 `gorm:"uniqueIndex"`
	OrderID    *uint64 `gorm:"index"`
}

func (CartSession) TableName() string { return "cart_sessions" }

type CartItem struct {
	CartSessionID uint64 `gorm:"primaryKey;autoIncrement:false"`
	ItemID        uint64 `gorm:"primaryKey;autoIncrement:false"`
}

func (CartItem) TableName() string { return "cart_items" }
