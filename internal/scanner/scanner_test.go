package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupScanTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"src/db.js": `
const users = db.collection('users');
export const recent = db.collection('orders')
  .where('organizationId', '==', orgId)
  .orderBy('createdAt', 'desc')
  .limit(20);
`,
		"src/billing.ts": `
const licenses = firestore.collection("licenses");
const users = db.collection('users');
`,
		"src/ignore.txt":           `collection('notScanned')`,
		"node_modules/dep/code.js": `db.collection('shouldNotAppear')`,
	}

	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return root
}

func TestRunDiscoversCollections(t *testing.T) {
	root := setupScanTree(t)
	s := New(Config{Roots: []string{root}})

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Collections, 3)
	require.Equal(t, "licenses", report.Collections[0].Name)
	require.Equal(t, "orders", report.Collections[1].Name)
	require.Equal(t, "users", report.Collections[2].Name)

	users := report.Collection("users")
	require.NotNil(t, users)
	require.Len(t, users.Sources, 2)

	require.Nil(t, report.Collection("shouldNotAppear"))
	require.Nil(t, report.Collection("notScanned"))

	patterns := report.PatternsFor("orders")
	require.Len(t, patterns, 1)
	require.Len(t, patterns[0].Predicates, 2)
	require.Equal(t, 2, report.Stats.FilesScanned)
}

func TestRunIsDeterministic(t *testing.T) {
	root := setupScanTree(t)
	s := New(Config{Roots: []string{root}})

	first, err := s.Run(context.Background())
	require.NoError(t, err)
	second, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, first.Collections, second.Collections)
	require.Equal(t, first.Patterns, second.Patterns)
}

func TestRunSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	binary := append([]byte("collection('users')"), 0x00, 0x01)
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.js"), binary, 0o644))

	report, err := New(Config{Roots: []string{root}}).Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, report.Collections)
	require.Equal(t, 1, report.Stats.FilesSkipped)
}

func TestRunFailsOnMissingRoot(t *testing.T) {
	s := New(Config{Roots: []string{filepath.Join(t.TempDir(), "nope")}})

	_, err := s.Run(context.Background())
	require.Error(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	root := setupScanTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{Roots: []string{root}}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileCacheMemoizesExtraction(t *testing.T) {
	root := setupScanTree(t)
	cache := NewFileCache(128, time.Minute)
	s := New(Config{Roots: []string{root}, Cache: cache})

	first, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, first.Stats.CacheHits)

	second, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, second.Stats.FilesScanned, second.Stats.CacheHits)
	require.Equal(t, first.Collections, second.Collections)

	// An edited file must miss: its size and mtime change.
	edited := filepath.Join(root, "src", "billing.ts")
	require.NoError(t, os.WriteFile(edited, []byte(`collection('invoices')`), 0o644))

	third, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, third.Collection("invoices"))
	require.Nil(t, third.Collection("licenses"))
}

func TestWatchTriggersRescan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js"), []byte(`collection('users')`), 0o644))

	s := New(Config{Roots: []string{root}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, 50*time.Millisecond, func(context.Context) {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher a moment to establish watches before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.js"), []byte(`collection('orders')`), 0o644))

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("watch never fired after a source change")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
