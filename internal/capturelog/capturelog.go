// Package capturelog keeps an append-only record of finished captures in
// SQLite and manages the files captures leave in the output directory.
package capturelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zsiec/depthcap/internal/pipeline"
)

// Entry is one row of the capture log.
type Entry struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"column:session_id;index" json:"sessionId"`
	Name      string    `gorm:"column:name" json:"name"`
	Kind      string    `gorm:"column:kind" json:"kind"`
	ColorPath string    `gorm:"column:color_path" json:"colorPath"`
	DepthPath string    `gorm:"column:depth_path" json:"depthPath"`
	Frames    int64     `gorm:"column:frames" json:"frames"`
	Dropped   int64     `gorm:"column:dropped" json:"dropped"`
	ElapsedMs int64     `gorm:"column:elapsed_ms" json:"elapsedMs"`
	StartedAt time.Time `gorm:"column:started_at" json:"startedAt"`
	EndedAt   time.Time `gorm:"column:ended_at" json:"endedAt"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (*Entry) TableName() string {
	return "captures"
}

// Store is the capture log.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (creating if needed) the SQLite database at dsn and migrates
// the schema. ":memory:" gives a private in-memory log.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("capturelog: open %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("capturelog: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("capturelog: migrate: %w", err)
	}
	return &Store{db: db, log: log.With("component", "capturelog")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Register appends a finished capture.
func (s *Store) Register(ctx context.Context, c pipeline.Capture) (*Entry, error) {
	e := &Entry{
		SessionID: c.ID,
		Name:      c.Name,
		Kind:      c.Kind,
		ColorPath: c.Paths.Color,
		DepthPath: c.Paths.Depth,
		Frames:    c.Frames,
		Dropped:   c.Dropped,
		ElapsedMs: c.Elapsed.Milliseconds(),
		StartedAt: c.StartedAt,
		EndedAt:   c.EndedAt,
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("capturelog: register %s: %w", c.Name, err)
	}
	s.log.Info("capture registered", "capture", c.Name, "kind", c.Kind, "session", c.ID)
	return e, nil
}

// Hook adapts Register to the pipeline's capture callback. Failures are
// logged; a missing log row never affects the capture files.
func (s *Store) Hook() pipeline.CaptureHook {
	return func(c pipeline.Capture) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Register(ctx, c); err != nil {
			s.log.Error("register capture", "capture", c.Name, "error", err)
		}
	}
}

// List returns every entry in append order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("capturelog: list: %w", err)
	}
	return out, nil
}

// Truncate removes every entry.
func (s *Store) Truncate(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("capturelog: truncate: %w", err)
	}
	return nil
}

// Clear deletes every regular file in dir and truncates the log. It
// returns how many files were removed.
func (s *Store) Clear(ctx context.Context, dir string) (int, error) {
	names, err := DiskFiles(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if err := s.Truncate(ctx); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("cache cleared", "dir", dir, "removed", removed)
	return removed, errors.Join(errs...)
}

// DiskFiles lists the regular files in dir, sorted by name. A missing
// directory has no files.
func DiskFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capturelog: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
