package timeline

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no record exists for a tick.
var ErrNotFound = errors.New("timeline record not found")

const memDir = "timeline"

// Store is a Pebble-backed archive of tick records keyed by tick. With an
// empty path the store lives in memory and disappears on Close.
type Store struct {
	db     *pebble.DB
	path   string
	wo     *pebble.WriteOptions
	logger *zap.Logger
}

// Open opens or creates the archive at path, or an in-memory one when path
// is empty.
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := &pebble.Options{
		Logger: &pebbleLogger{logger},
	}
	dir := path
	wo := pebble.Sync
	if path == "" {
		opts.FS = vfs.NewMem()
		dir = memDir
		wo = pebble.NoSync
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", dir, err)
	}
	if path != "" {
		logger.Info("Timeline archive opened", zap.String("path", path))
	}
	return &Store{db: db, path: path, wo: wo, logger: logger}, nil
}

// InMemory reports whether the store is not backed by disk.
func (s *Store) InMemory() bool { return s.path == "" }

// Close flushes and closes the archive.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append stores r under its tick, replacing any earlier record for that tick.
func (s *Store) Append(r Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("encode tick %d: %w", r.Tick, err)
	}
	if err := s.db.Set(encodeKey(r.Tick), data, s.wo); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Get returns the record of a single tick.
func (s *Store) Get(tick int64) (Record, error) {
	data, closer, err := s.db.Get(encodeKey(tick))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: tick %d", ErrNotFound, tick)
	}
	if err != nil {
		return Record{}, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	r, err := decodeRecord(data)
	if err != nil {
		return Record{}, fmt.Errorf("decode tick %d: %w", tick, err)
	}
	return r, nil
}

// Records returns every archived record in tick order.
func (s *Store) Records() ([]Record, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		r, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Truncate deletes all archived records.
func (s *Store) Truncate() error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		keys = append(keys, k)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	if err := iter.Close(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.wo)
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Debugf(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
