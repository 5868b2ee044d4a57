// Package scanner walks project source trees and extracts every document
// collection reference and query shape it can find. Unreadable files and
// directories degrade the scan with a warning instead of failing it.
package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/pkg/logger"
)

// Config controls a scan.
type Config struct {
	Roots       []string
	Extensions  []string
	ExcludeDirs []string
	Verbose     bool
	Cache       *FileCache
}

// DefaultExtensions lists the file types scanned when none are configured.
func DefaultExtensions() []string {
	return []string{".js", ".jsx", ".ts", ".tsx", ".vue", ".html"}
}

// DefaultExcludeDirs lists directory basenames skipped when none are configured.
func DefaultExcludeDirs() []string {
	return []string{"node_modules", ".git", "dist", "build", "coverage", ".governor"}
}

// Scanner extracts a collection inventory from source trees.
type Scanner struct {
	cfg        Config
	extensions map[string]struct{}
	excludes   map[string]struct{}
	log        *zap.Logger
}

// New builds a Scanner. Empty extension or exclude lists fall back to the
// defaults.
func New(cfg Config) *Scanner {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions()
	}
	excludes := cfg.ExcludeDirs
	if len(excludes) == 0 {
		excludes = DefaultExcludeDirs()
	}

	s := &Scanner{
		cfg:        cfg,
		extensions: make(map[string]struct{}, len(exts)),
		excludes:   make(map[string]struct{}, len(excludes)),
		log:        logger.WithModule("scanner"),
	}
	for _, ext := range exts {
		s.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, dir := range excludes {
		s.excludes[dir] = struct{}{}
	}
	return s
}

// Run walks every configured root and returns the aggregated report.
// Collections are not yet categorized; the classifier annotates the report
// afterwards. The only fatal errors are context cancellation and a root that
// does not exist at all.
func (s *Scanner) Run(ctx context.Context) (*inventory.ScanReport, error) {
	report := &inventory.ScanReport{
		ScanTime: time.Now().UTC(),
		Sources:  make(map[string]string, len(s.cfg.Roots)),
	}

	records := make(map[string]*inventory.ResourceRecord)
	seen := make(map[string]struct{})

	for _, root := range s.cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		project := filepath.Base(abs)
		report.Sources[project] = abs

		if err := s.walkRoot(ctx, abs, project, report, records, seen); err != nil {
			return nil, err
		}
	}

	report.Collections = make([]inventory.ResourceRecord, 0, len(records))
	for _, rec := range records {
		report.Collections = append(report.Collections, *rec)
	}
	report.Sort()

	s.log.Info("scan complete",
		zap.Int("collections", len(report.Collections)),
		zap.Int("patterns", len(report.Patterns)),
		zap.Int("filesScanned", report.Stats.FilesScanned),
		zap.Int("filesSkipped", report.Stats.FilesSkipped))

	return report, nil
}

func (s *Scanner) walkRoot(ctx context.Context, root, project string, report *inventory.ScanReport, records map[string]*inventory.ResourceRecord, seen map[string]struct{}) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Unreadable entries degrade the scan, they do not stop it.
			s.log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			report.Stats.FilesSkipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if _, skip := s.excludes[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := s.extensions[ext]; !ok {
			return nil
		}

		s.scanFile(path, project, root, d, report, records, seen)
		return nil
	})
}

func (s *Scanner) scanFile(path, project, root string, d fs.DirEntry, report *inventory.ScanReport, records map[string]*inventory.ResourceRecord, seen map[string]struct{}) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	var cacheKey string
	if s.cfg.Cache != nil {
		if info, err := d.Info(); err == nil {
			cacheKey = s.cfg.Cache.Key(path, info)
			if ext, ok := s.cfg.Cache.Get(cacheKey); ok {
				report.Stats.CacheHits++
				report.Stats.FilesScanned++
				s.collect(ext, project, rel, report, records, seen)
				return
			}
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
		report.Stats.FilesSkipped++
		return
	}
	if isBinary(raw) {
		s.log.Warn("skipping binary file", zap.String("path", path))
		report.Stats.FilesSkipped++
		return
	}

	ext := extract(string(raw))
	if s.cfg.Cache != nil && cacheKey != "" {
		s.cfg.Cache.Add(cacheKey, ext)
	}

	report.Stats.FilesScanned++
	s.collect(ext, project, rel, report, records, seen)
}

func (s *Scanner) collect(ext *fileExtract, project, rel string, report *inventory.ScanReport, records map[string]*inventory.ResourceRecord, seen map[string]struct{}) {
	for _, ref := range ext.Refs {
		rec := records[ref.Name]
		if rec == nil {
			rec = &inventory.ResourceRecord{Name: ref.Name}
			records[ref.Name] = rec
		}

		key := ref.Name + "\x00" + project + "\x00" + rel + "\x00" + strconv.Itoa(ref.Line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		rec.Sources = append(rec.Sources, inventory.SourceRef{
			Project: project,
			Path:    rel,
			Line:    ref.Line,
		})

		if s.cfg.Verbose {
			s.log.Info("collection reference",
				zap.String("collection", ref.Name),
				zap.String("project", project),
				zap.String("path", rel),
				zap.Int("line", ref.Line))
		}
	}

	for _, p := range ext.Patterns {
		report.Patterns = append(report.Patterns, inventory.QueryPattern{
			Collection: p.Collection,
			Predicates: p.Predicates,
			Limit:      p.Limit,
			Source: inventory.SourceRef{
				Project: project,
				Path:    rel,
				Line:    p.Line,
			},
		})
	}

	if s.cfg.Verbose {
		for _, rej := range ext.Rejected {
			s.log.Debug("rejected collection literal",
				zap.String("literal", rej.Name),
				zap.String("path", rel),
				zap.Int("line", rej.Line))
		}
	}
}

// isBinary applies the classic NUL-byte sniff to the head of a file.
func isBinary(raw []byte) bool {
	head := raw
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
