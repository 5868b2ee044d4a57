package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScanRun captures one completed inventory scan and the artifacts it produced.
type ScanRun struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	Stamp        string         `gorm:"uniqueIndex" json:"stamp"`
	Trigger      string         `gorm:"index" json:"trigger"`
	Collections  int            `json:"collections"`
	FilesScanned int            `json:"files_scanned"`
	FilesSkipped int            `json:"files_skipped"`
	Requirements int            `json:"requirements"`
	Deployed     bool           `json:"deployed"`
	Categories   datatypes.JSON `json:"categories"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (r *ScanRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RemediationRun records one pass of the permission monitor repair pipeline.
type RemediationRun struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	CycleID       string         `gorm:"index" json:"cycle_id"`
	Outcome       string         `gorm:"not null;index" json:"outcome"`
	Resources     datatypes.JSON `json:"resources"`
	StillFailing  datatypes.JSON `json:"still_failing"`
	ArtifactStamp string         `json:"artifact_stamp"`
	Error         string         `json:"error"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (r *RemediationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// AlertRecord mirrors a raised alert so operators can query past alerts with
// SQL instead of replaying the append-only log.
type AlertRecord struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	AlertID   string         `gorm:"index" json:"alert_id"`
	Type      string         `gorm:"not null;index" json:"type"`
	Severity  string         `gorm:"index" json:"severity"`
	Message   string         `json:"message"`
	Resources datatypes.JSON `json:"resources"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (r *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
