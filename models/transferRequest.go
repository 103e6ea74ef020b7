package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest moves stock from SourceSite to DestSite once the destination accepts.
type TransferRequest struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	SourceSite string          `gorm:"size:64;not null;index" json:"source_site"`
	DestSite   string          `gorm:"size:64;not null;index" json:"dest_site"`
	ItemCode   string          `gorm:"size:64;not null" json:"item_code"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Status     TransferStatus  `gorm:"size:10;not null;index" json:"status"`
	Requester  string          `gorm:"size:100;not null" json:"requester"`
	Decider    *string         `gorm:"size:100" json:"decider"`
	DecidedAt  *time.Time      `json:"decided_at"`
	Annotation string          `gorm:"type:text" json:"annotation"`
	CreatedAt  time.Time       `gorm:"index" json:"created_at"`
}

func (t *TransferRequest) Clone() *TransferRequest {
	if t == nil {
		return nil
	}
	c := *t
	if t.Decider != nil {
		d := *t.Decider
		c.Decider = &d
	}
	if t.DecidedAt != nil {
		at := *t.DecidedAt
		c.DecidedAt = &at
	}
	return &c
}
