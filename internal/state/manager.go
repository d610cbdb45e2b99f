package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
)

const (
	runPrefix = "run:"
	// runs older than this are expired by badger
	retention = 30 * 24 * time.Hour
)

type Manager interface {
	SaveRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, n int) ([]Run, error)
	Close() error
}

type badgerManager struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func New(path string, metrics *metrics.Metrics) (Manager, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	m := &badgerManager{db: db, metrics: metrics}
	return m, nil
}

// runKey orders runs by start time under lexical key order.
func runKey(t time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", runPrefix, t.UnixNano()))
}

func (m *badgerManager) SaveRun(ctx context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		m.metrics.IncBadgerRequest("update", false)
		return fmt.Errorf("marshal run: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(runKey(run.Time), data).WithTTL(retention)
		return txn.SetEntry(entry)
	})
	m.metrics.IncBadgerRequest("update", err == nil)
	return err
}

// RecentRuns returns up to n runs, newest first.
func (m *badgerManager) RecentRuns(ctx context.Context, n int) ([]Run, error) {
	var runs []Run
	if n <= 0 {
		return runs, nil
	}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix) && len(runs) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var run Run
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	m.metrics.IncBadgerRequest("read", err == nil)
	return runs, err
}

func (m *badgerManager) Close() error {
	return m.db.Close()
}
