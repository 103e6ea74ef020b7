package models

import "time"

// ReadingEntry is one accepted close of a cycle. Never updated or deleted.
type ReadingEntry struct {
	ID               string       `gorm:"primaryKey;size:36" json:"id"`
	ReadingDate      time.Time    `gorm:"type:date;index" json:"reading_date"`
	Site             string       `gorm:"size:64;not null;index:idx_reading_key" json:"site"`
	InstrumentId     string       `gorm:"size:64;not null;index:idx_reading_key" json:"instrument_id"`
	MetricSet        string       `gorm:"size:20;not null" json:"metric_set"`
	OpeningValues    MetricValues `gorm:"type:text" json:"opening_values"`
	ClosingValues    MetricValues `gorm:"type:text" json:"closing_values"`
	NetValues        MetricValues `gorm:"type:text" json:"net_values"`
	InflowValues     MetricValues `gorm:"type:text" json:"inflow_values"`
	ConsumedValues   MetricValues `gorm:"type:text" json:"consumed_values"`
	ExtraValues      MetricValues `gorm:"type:text" json:"extra_values"`
	Annotation       string       `gorm:"type:text" json:"annotation"`
	Actor            string       `gorm:"size:100" json:"actor"`
	IdempotencyToken string       `gorm:"size:100" json:"idempotency_token"`
	// Sequence orders readings of one key; opening of n equals closing of n-1.
	Sequence  int64     `gorm:"not null;index:idx_reading_key" json:"sequence"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (r *ReadingEntry) Clone() *ReadingEntry {
	if r == nil {
		return nil
	}
	c := *r
	c.OpeningValues = r.OpeningValues.Clone()
	c.ClosingValues = r.ClosingValues.Clone()
	c.NetValues = r.NetValues.Clone()
	c.InflowValues = r.InflowValues.Clone()
	c.ConsumedValues = r.ConsumedValues.Clone()
	c.ExtraValues = r.ExtraValues.Clone()
	return &c
}
