package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/username/isdayoff/pkg/dateutil"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const yearsBucket = "years"

// BoltStore keeps the same text records as FileStore inside a single bbolt database.
// Every write runs in its own update transaction, which replaces the value atomically.
type BoltStore struct {
	db            *bolt.DB
	retentionDays int
	now           func() time.Time
	logger        *zap.Logger
}

// OpenBoltStore opens (or creates) the database at path
func OpenBoltStore(path string, retentionDays int, logger *zap.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrPersistence, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(yearsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create bucket: %v", ErrPersistence, err)
	}

	if retentionDays < 0 {
		retentionDays = DefaultRetentionDays
	}

	logger.Debug("Bolt cache opened", zap.String("path", path))

	return &BoltStore{
		db:            db,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger,
	}, nil
}

// WithClock replaces the clock used to judge freshness
func (s *BoltStore) WithClock(now func() time.Time) *BoltStore {
	s.now = now
	return s
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// IsFresh checks if a fresh record exists for the key
func (s *BoltStore) IsFresh(year int, locale string) bool {
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
func (s *BoltStore) Read(year int, locale string) (*Record, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(yearsBucket))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(recordKey(year, locale))); v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, recordKey(year, locale))
	}

	return ParseRecord(year, locale, data)
}

// ReadSlice returns the codes [start, end) of a fresh record
func (s *BoltStore) ReadSlice(year int, locale string, start, end int) (string, error) {
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

// Write replaces the record for the key
func (s *BoltStore) Write(year int, locale string, codes string, now time.Time) error {
	record := &Record{
		Year:      year,
		Locale:    locale,
		CreatedOn: dateutil.DateOf(now),
		Codes:     codes,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(yearsBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(recordKey(year, locale)), record.Marshal())
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store %s: %v", ErrPersistence, recordKey(year, locale), err)
	}

	s.logger.Info("Year cached",
		zap.Int("year", year),
		zap.String("locale", locale),
		zap.Int("days", len(codes)))

	return nil
}
