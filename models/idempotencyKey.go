package models

import "time"

// IdempotencyKey remembers the result of a submission so a retried call replays it.
// Unique constraint: (scope, token).
type IdempotencyKey struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Scope     string    `gorm:"size:200;not null;index:uniq_idem,unique" json:"scope"`
	Token     string    `gorm:"size:100;not null;index:uniq_idem,unique" json:"token"`
	ResultRef string    `gorm:"size:64;not null" json:"result_ref"`
	Actor     string    `gorm:"size:100" json:"actor"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
