package models

import "time"

// AuditEntry is append-only. Before/After hold JSON snapshots of the affected balances.
type AuditEntry struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	Actor         string      `gorm:"size:100;not null;index" json:"actor"`
	Action        AuditAction `gorm:"size:40;not null" json:"action"`
	EntityRef     string      `gorm:"size:255;not null;index" json:"entity_ref"`
	Before        string      `gorm:"type:text" json:"before"`
	After         string      `gorm:"type:text" json:"after"`
	Source        string      `gorm:"size:100" json:"source"`
	CorrelationId string      `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
}
