package store

import (
	"time"

	"github.com/ethpandaops/dperf/pkg/run"
)

// RunDocument is one stored run. Document holds the submitted JSON object
// exactly as received (compacted); the other columns are copied out of it
// for filtering and ordering.
type RunDocument struct {
	ID        uint    `gorm:"primaryKey"`
	RunID     int64   `gorm:"not null;index"`
	Name      string  `gorm:"not null;index"`
	Time      float64 `gorm:"not null;index"`
	Document  string  `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName pins the table to "runs".
func (RunDocument) TableName() string {
	return "runs"
}

// Summary returns the listing projection of the document.
func (d *RunDocument) Summary() run.Summary {
	return run.Summary{
		RunID: d.RunID,
		Name:  d.Name,
		Time:  d.Time,
	}
}
