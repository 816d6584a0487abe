package model

import "time"

// Item is a purchasable NFT. Price is in the smallest unit of the base currency.
type Item struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	ThumbnailURI string    `gorm:"size:512" json:"thumbnail_uri,omitempty"`
	Price        int64     `gorm:"not null" json:"price"`
	// IsProxy items resolve to a concrete backing item at checkout.
	IsProxy bool `gorm:"not null;default:false" json:"is_proxy"`
}

func (Item) TableName() string { return "items" }

// UserItem records ownership assigned at checkout.
type UserItem struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time
	UserID    uint64 `gorm:"not null;index"`
	ItemID    uint64 `gorm:"not null;index"`
	OrderID   uint64 `gorm:"not null;index"`
}

func (UserItem) TableName() string { return "user_items" }

// ProxyUnfold is one backing item in a proxy's pool. Claimed at most once.
type ProxyUnfold struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	ProxyItemID     uint64  `gorm:"not null;index"`
	UnfoldItemID    uint64  `gorm:"not null;uniqueIndex"`
	Claimed         bool    `gorm:"not null;default:false;index"`
	ClaimedForOrder *uint64 `gorm:"index"`
}

func (ProxyUnfold) TableName() string { return "proxy_unfolds" }
