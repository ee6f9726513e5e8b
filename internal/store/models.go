package store

import (
	"time"
)

// CatalogPlant is one reference entry used to reconcile recognition output.
type CatalogPlant struct {
	ID         uint    `gorm:"primaryKey"`
	Name       string  `gorm:"size:128"`
	Normalized string  `gorm:"size:128;uniqueIndex"`
	Prefix     string  `gorm:"size:16;index"`
	Length     int     `gorm:"index"`
	Category   string  `gorm:"size:40;index"`
	Points     float64 `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AdvisoryEvent is the terminal record of one advisory or recognition request.
type AdvisoryEvent struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  string `gorm:"size:64;uniqueIndex"`
	Flow       string `gorm:"size:16;index"`
	Actor      string `gorm:"size:128;index"`
	State      string `gorm:"size:32;index"`
	RuleID     string `gorm:"size:64"`
	Verdict    string `gorm:"size:32"`
	ErrorCode  string `gorm:"size:64"`
	Attempts   int
	ItemCount  int
	LatencyMs  int64
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
