package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockTransaction records a single movement and the balance it produced.
type StockTransaction struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	Site             string          `gorm:"size:64;not null;index:idx_stock_txn_key" json:"site"`
	ItemCode         string          `gorm:"size:64;not null;index:idx_stock_txn_key" json:"item_code"`
	Direction        StockDirection  `gorm:"size:3;not null" json:"direction"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	ResultingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"resulting_balance"`
	Annotation       string          `gorm:"type:text" json:"annotation"`
	Actor            string          `gorm:"size:100" json:"actor"`
	// ReferenceType/ReferenceId point at the document that caused the movement, e.g. a transfer.
	ReferenceType    string    `gorm:"size:40" json:"reference_type"`
	ReferenceId      string    `gorm:"size:64;index" json:"reference_id"`
	IdempotencyToken string    `gorm:"size:100" json:"idempotency_token"`
	// ItemVersion is the item version this movement produced; orders movements per item.
	ItemVersion      int64     `gorm:"not null;index" json:"item_version"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// SignedQuantity is +qty for IN and -qty for OUT.
func (t StockTransaction) SignedQuantity() decimal.Decimal {
	if t.Direction == StockDirectionOut {
		return t.Quantity.Neg()
	}
	return t.Quantity
}
