package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockItem struct {
	Site              string          `gorm:"primaryKey;size:64" json:"site"`
	ItemCode          string          `gorm:"primaryKey;size:64" json:"item_code"`
	ItemName          string          `gorm:"size:255;not null;index" json:"item_name"`
	AvailableQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"available_quantity"`
	Version           int64           `gorm:"not null;default:1" json:"version"`
	UpdatedBy         string          `gorm:"size:100" json:"updated_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i StockItem) Key() string {
	return StockKey(i.Site, i.ItemCode)
}

func StockKey(site, itemCode string) string {
	return site + "|" + itemCode
}

func (i *StockItem) Clone() *StockItem {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
