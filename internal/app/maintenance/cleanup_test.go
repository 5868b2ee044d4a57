package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/governor/internal/history"
)

func TestRunOncePrunesOldRows(t *testing.T) {
	db, catalog := openTestCatalog(t)

	old := history.ScanRun{
		Stamp:     "20240101T000000Z",
		CreatedAt: time.Now().AddDate(0, 0, -20),
	}
	require.NoError(t, db.Create(&old).Error)

	require.NoError(t, catalog.RecordScan(context.Background(), history.ScanEntry{
		Stamp: "20250301T120000Z",
	}))

	cleaner := NewCleaner(catalog, WithRetentionDays(10))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	runs, err := catalog.RecentScans(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "20250301T120000Z", runs[0].Stamp)
}

func TestRunOnceWithoutCatalogIsNoop(t *testing.T) {
	cleaner := NewCleaner(nil)
	require.NoError(t, cleaner.RunOnce(context.Background()))
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}

func TestStartAndStop(t *testing.T) {
	_, catalog := openTestCatalog(t)

	cleaner := NewCleaner(catalog, WithSchedule("@every 1h"))
	require.NoError(t, cleaner.Start())

	select {
	case <-cleaner.Stop().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func openTestCatalog(t *testing.T) (*gorm.DB, *history.Catalog) {
	t.Helper()

	db, err := history.Open(history.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, history.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	catalog, err := history.NewCatalog(db)
	require.NoError(t, err)

	return db, catalog
}
