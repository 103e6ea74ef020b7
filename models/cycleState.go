package models

import "time"

// CycleState holds the carry-forward opening values of one instrument at one site.
// Version increments on every write and guards against lost updates.
type CycleState struct {
	Site          string       `gorm:"primaryKey;size:64" json:"site"`
	InstrumentId  string       `gorm:"primaryKey;size:64" json:"instrument_id"`
	MetricSet     string       `gorm:"size:20;not null" json:"metric_set"`
	OpeningValues MetricValues `gorm:"type:text" json:"opening_values"`
	Version       int64        `gorm:"not null;default:1" json:"version"`
	UpdatedBy     string       `gorm:"size:100" json:"updated_by"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s CycleState) Key() string {
	return CycleKey(s.Site, s.InstrumentId)
}

func CycleKey(site, instrumentId string) string {
	return site + "|" + instrumentId
}

func (s *CycleState) Clone() *CycleState {
	if s == nil {
		return nil
	}
	c := *s
	c.OpeningValues = s.OpeningValues.Clone()
	return &c
}
