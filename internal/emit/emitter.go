// Package emit persists generated artifacts. Every run refreshes the
// "latest" artifact set in place and lays down an immutable timestamped copy
// under history/, so operators can always diff what changed between runs.
package emit

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/indexes"
	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/pkg/logger"
)

// Artifact file names inside a run directory.
const (
	ReportFile  = "scan-report.json"
	PolicyFile  = "access-policy.rules"
	IndexFile   = "indexes.json"
	SummaryFile = "summary.md"
)

// DefaultHistoryLimit is how many timestamped runs are retained.
const DefaultHistoryLimit = 20

// Artifacts is one run's worth of output. Policy and IndexConfig are
// optional: a plain scan emits only the report and summary.
type Artifacts struct {
	Report       *inventory.ScanReport
	Policy       string
	IndexConfig  *indexes.ConfigFile
	Requirements []indexes.Requirement
}

// Result describes where a run's artifacts landed.
type Result struct {
	Stamp      string
	LatestDir  string
	HistoryDir string
	Paths      []string
}

// Emitter writes artifact sets under a base directory.
type Emitter struct {
	dir          string
	historyLimit int
	now          func() time.Time
	log          *zap.Logger
}

// Option customises an Emitter.
type Option func(*Emitter)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithHistoryLimit bounds how many timestamped copies are kept. Zero or
// negative keeps everything.
func WithHistoryLimit(n int) Option {
	return func(e *Emitter) {
		e.historyLimit = n
	}
}

// New builds an Emitter rooted at dir.
func New(dir string, opts ...Option) *Emitter {
	e := &Emitter{
		dir:          dir,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		log:          logger.WithModule("emit"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LatestDir is where the current artifact set lives.
func (e *Emitter) LatestDir() string {
	return filepath.Join(e.dir, "latest")
}

// LatestPath returns the path of a named artifact in the latest set.
func (e *Emitter) LatestPath(name string) string {
	return filepath.Join(e.LatestDir(), name)
}

// Write persists the artifact set: once into latest/ and once into an
// immutable timestamped history directory. Individual file failures are
// collected; the other files are still written.
func (e *Emitter) Write(a Artifacts) (*Result, error) {
	stamp := e.now().UTC().Format("20060102T150405Z")
	res := &Result{
		Stamp:      stamp,
		LatestDir:  e.LatestDir(),
		HistoryDir: filepath.Join(e.dir, "history", stamp),
	}

	files := e.renderFiles(a)

	var errs error
	for _, dir := range []string{res.LatestDir, res.HistoryDir} {
		for _, name := range sortedNames(files) {
			path := filepath.Join(dir, name)
			if err := WriteFileAtomic(path, files[name]); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			res.Paths = append(res.Paths, path)
		}
	}

	if err := e.pruneHistory(); err != nil {
		e.log.Warn("history pruning failed", zap.Error(err))
	}

	if errs != nil {
		e.log.Error("artifact write incomplete", zap.String("stamp", stamp), zap.Error(errs))
		return res, errs
	}

	e.log.Info("artifacts written",
		zap.String("stamp", stamp),
		zap.Int("files", len(files)),
		zap.String("dir", res.LatestDir))
	return res, nil
}

func (e *Emitter) renderFiles(a Artifacts) map[string][]byte {
	files := make(map[string][]byte, 4)

	if a.Report != nil {
		if data, err := marshalReport(a.Report); err == nil {
			files[ReportFile] = data
		} else {
			e.log.Error("cannot marshal scan report", zap.Error(err))
		}
	}
	if a.Policy != "" {
		files[PolicyFile] = []byte(a.Policy)
	}
	if a.IndexConfig != nil {
		if data, err := marshalIndexes(a.IndexConfig); err == nil {
			files[IndexFile] = data
		} else {
			e.log.Error("cannot marshal index config", zap.Error(err))
		}
	}
	files[SummaryFile] = []byte(renderSummary(a))

	return files
}

// pruneHistory removes the oldest timestamped directories beyond the
// retention limit. Directory names sort chronologically by construction.
func (e *Emitter) pruneHistory() error {
	if e.historyLimit <= 0 {
		return nil
	}

	historyRoot := filepath.Join(e.dir, "history")
	entries, err := os.ReadDir(historyRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var stamps []string
	for _, entry := range entries {
		if entry.IsDir() {
			stamps = append(stamps, entry.Name())
		}
	}
	if len(stamps) <= e.historyLimit {
		return nil
	}

	sort.Strings(stamps)
	var errs error
	for _, stamp := range stamps[:len(stamps)-e.historyLimit] {
		if err := os.RemoveAll(filepath.Join(historyRoot, stamp)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
