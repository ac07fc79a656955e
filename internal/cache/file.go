package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
)

// FileStore keeps one plain text record per (year, locale) in a directory
type FileStore struct {
	fs            afero.Fs
	dir           string
	retentionDays int
	now           func() time.Time
	logger        *zap.Logger
}

// NewFileStore creates a FileStore rooted at dir on the given filesystem.
// An empty dir means the working directory.
func NewFileStore(fs afero.Fs, dir string, retentionDays int, logger *zap.Logger) *FileStore {
	if dir == "" {
		dir = "."
	}
	if retentionDays < 0 {
		retentionDays = DefaultRetentionDays
	}

	return &FileStore{
		fs:            fs,
		dir:           dir,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger,
	}
}

// WithClock replaces the clock used to judge freshness
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

// Path returns the record file for the key
func (s *FileStore) Path(year int, locale string) string {
	return filepath.Join(s.dir, fmt.Sprintf("isdayoff-%d-%s.txt", year, locale))
}

// IsFresh checks if a fresh record exists for the key
func (s *FileStore) IsFresh(year int, locale string) bool {
	record, err := s.Read(year, locale)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			s.logger.Warn("Failed to read cache record",
				zap.Int("year", year),
				zap.String("locale", locale),
				zap.Error(err))
		}
		return false
	}

	return record.FreshOn(s.now(), s.retentionDays)
}

// Read loads the record for the key without judging freshness
func (s *FileStore) Read(year int, locale string) (*Record, error) {
	path := s.Path(year, locale)

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, path)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrPersistence, path, err)
	}

	return ParseRecord(year, locale, data)
}

// ReadSlice returns the codes [start, end) of a fresh record
func (s *FileStore) ReadSlice(year int, locale string, start, end int) (string, error) {
	record, err := s.Read(year, locale)
	if err != nil {
		return "", err
	}

	if !record.FreshOn(s.now(), s.retentionDays) {
		return "", fmt.Errorf("%w: record %d/%s expired on %s",
			ErrNotCached, year, locale, record.ExpiresOn(s.retentionDays).Format("2006-01-02"))
	}

	return record.Slice(start, end)
}

// Write replaces the record for the key via a temp file and rename,
// so readers never observe a partially written record.
func (s *FileStore) Write(year int, locale string, codes string, now time.Time) error {
	record := &Record{
		Year:      year,
		Locale:    locale,
		CreatedOn: dateutil.DateOf(now),
		Codes:     codes,
	}

	path := s.Path(year, locale)
	if err := s.writeAtomic(path, record.Marshal()); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrPersistence, path, err)
	}

	s.logger.Info("Year cached",
		zap.Int("year", year),
		zap.String("locale", locale),
		zap.String("file", path),
		zap.Int("days", len(codes)))

	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, s.dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
