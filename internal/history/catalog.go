package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScanEntry captures a single scan run to persist.
type ScanEntry struct {
	Stamp        string
	Trigger      string
	Collections  int
	FilesScanned int
	FilesSkipped int
	Requirements int
	Deployed     bool
	Categories   map[string]int
}

// RemediationEntry captures a single remediation pass to persist.
type RemediationEntry struct {
	CycleID       string
	Outcome       string
	Resources     []string
	StillFailing  []string
	ArtifactStamp string
	Err           error
	StartedAt     time.Time
	FinishedAt    time.Time
}

// AlertEntry captures a raised alert to persist.
type AlertEntry struct {
	AlertID   string
	Type      string
	Severity  string
	Message   string
	Resources []string
}

// Catalog persists and retrieves governance run records.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog constructs a Catalog using the provided database handle.
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("history catalog: db is required")
	}
	return &Catalog{db: db}, nil
}

// RecordScan stores a scan run row.
func (c *Catalog) RecordScan(ctx context.Context, entry ScanEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Stamp) == "" {
		return errors.New("history catalog: stamp is required")
	}

	categories, err := encodeJSON(entry.Categories)
	if err != nil {
		return err
	}

	run := ScanRun{
		Stamp:        strings.TrimSpace(entry.Stamp),
		Trigger:      strings.TrimSpace(entry.Trigger),
		Collections:  entry.Collections,
		FilesScanned: entry.FilesScanned,
		FilesSkipped: entry.FilesSkipped,
		Requirements: entry.Requirements,
		Deployed:     entry.Deployed,
		Categories:   categories,
	}

	return c.db.WithContext(ctx).Create(&run).Error
}

// RecordRemediation stores a remediation run row.
func (c *Catalog) RecordRemediation(ctx context.Context, entry RemediationEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Outcome) == "" {
		return errors.New("history catalog: outcome is required")
	}

	resources, err := encodeJSON(entry.Resources)
	if err != nil {
		return err
	}
	stillFailing, err := encodeJSON(entry.StillFailing)
	if err != nil {
		return err
	}

	run := RemediationRun{
		CycleID:       strings.TrimSpace(entry.CycleID),
		Outcome:       strings.TrimSpace(entry.Outcome),
		Resources:     resources,
		StillFailing:  stillFailing,
		ArtifactStamp: strings.TrimSpace(entry.ArtifactStamp),
		StartedAt:     entry.StartedAt,
		FinishedAt:    entry.FinishedAt,
	}
	if entry.Err != nil {
		run.Error = entry.Err.Error()
	}

	return c.db.WithContext(ctx).Create(&run).Error
}

// RecordAlert stores an alert row.
func (c *Catalog) RecordAlert(ctx context.Context, entry AlertEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Type) == "" {
		return errors.New("history catalog: type is required")
	}

	resources, err := encodeJSON(entry.Resources)
	if err != nil {
		return err
	}

	record := AlertRecord{
		AlertID:   strings.TrimSpace(entry.AlertID),
		Type:      strings.TrimSpace(entry.Type),
		Severity:  strings.TrimSpace(entry.Severity),
		Message:   entry.Message,
		Resources: resources,
	}

	return c.db.WithContext(ctx).Create(&record).Error
}

// RecentScans returns scan runs ordered by creation time descending.
func (c *Catalog) RecentScans(ctx context.Context, limit int) ([]ScanRun, error) {
	ctx = ensureContext(ctx)

	var runs []ScanRun
	if err := c.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("history catalog: list scans: %w", err)
	}
	return runs, nil
}

// RecentRemediations returns remediation runs ordered by creation time descending.
func (c *Catalog) RecentRemediations(ctx context.Context, limit int) ([]RemediationRun, error) {
	ctx = ensureContext(ctx)

	var runs []RemediationRun
	if err := c.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("history catalog: list remediations: %w", err)
	}
	return runs, nil
}

// RecentAlerts returns alert records ordered by creation time descending.
func (c *Catalog) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	ctx = ensureContext(ctx)

	var records []AlertRecord
	if err := c.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history catalog: list alerts: %w", err)
	}
	return records, nil
}

// CleanupOlderThan removes catalog rows older than the supplied retention
// window (in days) across all record types.
func (c *Catalog) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("history catalog: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var removed int64
	for _, model := range []any{&ScanRun{}, &RemediationRun{}, &AlertRecord{}} {
		result := c.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(model)
		if result.Error != nil {
			return removed, fmt.Errorf("history catalog: cleanup rows: %w", result.Error)
		}
		removed += result.RowsAffected
	}

	return removed, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func encodeJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON(json.RawMessage(`null`)), nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("history catalog: marshal payload: %w", err)
	}
	return datatypes.JSON(payload), nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
