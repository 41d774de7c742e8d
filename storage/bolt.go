package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/ulysseses/raftlog/pb"
)

var (
	entryBucket = []byte("entry")
	metaBucket  = []byte("meta")
	ballotKey   = []byte("ballot")
)

// BoltStorage is a Storage backed by a bbolt file. bbolt iterates keys in bytes.Compare
// order, which for EncodeIndex keys is the numeric index order.
type BoltStorage struct {
	path   string
	db     *bolt.DB
	logger *zap.Logger
}

var (
	_ Storage              = (*BoltStorage)(nil)
	_ prometheus.Collector = (*BoltStorage)(nil)
)

// DestroyBolt irrecoverably removes the store at path. A missing store is not an error.
func DestroyBolt(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return newError("destroy", ErrStorageIO, err)
	}
	return nil
}

// CreateBolt initializes an empty store at path holding the zero ballot. It fails with
// ErrStorageInit if a store already exists there.
func CreateBolt(path string) error {
	if _, err := os.Stat(path); err == nil {
		return newError("create", ErrStorageInit, fmt.Errorf("%s already exists", path))
	} else if !os.IsNotExist(err) {
		return newError("create", ErrStorageInit, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return newError("create", ErrStorageInit, err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return newError("create", ErrStorageInit, err)
	}
	b, err := proto.Marshal(&pb.Ballot{})
	if err != nil {
		db.Close()
		return newError("create", ErrStorageInit, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(entryBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(ballotKey, b)
	})
	if err != nil {
		db.Close()
		return newError("create", ErrStorageInit, err)
	}
	if err := db.Close(); err != nil {
		return newError("create", ErrStorageInit, err)
	}
	return nil
}

// OpenBolt opens a store previously initialized with CreateBolt. The logger may be nil.
func OpenBolt(path string, logger *zap.Logger) (*BoltStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, newError("open", ErrStorageOpen, err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, newError("open", ErrStorageOpen, err)
	}
	err = db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(entryBucket) == nil {
			return fmt.Errorf("missing bucket %q", entryBucket)
		}
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return fmt.Errorf("missing bucket %q", metaBucket)
		}
		if meta.Get(ballotKey) == nil {
			return errors.New("missing ballot")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, newError("open", ErrStorageOpen, err)
	}
	logger.Info("opened log storage", zap.String("path", path))
	return &BoltStorage{path: path, db: db, logger: logger}, nil
}

// Path returns the file backing the store.
func (s *BoltStorage) Path() string {
	return s.path
}

// InsertEntry implements Storage. The entry's Index is set to i.
func (s *BoltStorage) InsertEntry(i uint64, e pb.Entry) error {
	e.Index = i
	return s.InsertEntries([]pb.Entry{e})
}

// InsertEntries implements Storage.
func (s *BoltStorage) InsertEntries(entries []pb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(entryBucket)
		for i := range entries {
			b, err := proto.Marshal(&entries[i])
			if err != nil {
				return err
			}
			if err := bkt.Put(EncodeIndex(entries[i].Index), b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return newError("insert entry", ErrStorageIO, err)
	}
	return nil
}

// GetEntry implements Storage.
func (s *BoltStorage) GetEntry(i uint64) (pb.Entry, bool, error) {
	var (
		e  pb.Entry
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entryBucket).Get(EncodeIndex(i))
		if v == nil {
			return nil
		}
		ok = true
		return proto.Unmarshal(v, &e)
	})
	if err != nil {
		return pb.Entry{}, false, newError("get entry", ErrStorageIO, err)
	}
	return e, ok, nil
}

// DeleteEntry implements Storage.
func (s *BoltStorage) DeleteEntry(i uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entryBucket).Delete(EncodeIndex(i))
	})
	if err != nil {
		return newError("delete entry", ErrStorageIO, err)
	}
	return nil
}

// Entries implements Storage.
func (s *BoltStorage) Entries(lo, hi uint64) ([]pb.Entry, error) {
	if lo > hi {
		return nil, nil
	}
	var entries []pb.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entryBucket).Cursor()
		end := EncodeIndex(hi)
		for k, v := c.Seek(EncodeIndex(lo)); k != nil && CompareIndexKeys(k, end) <= 0; k, v = c.Next() {
			var e pb.Entry
			if err := proto.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, newError("scan entries", ErrStorageIO, err)
	}
	return entries, nil
}

// HeadIndex implements Storage.
func (s *BoltStorage) HeadIndex() (uint64, error) {
	return s.boundary("head index", func(c *bolt.Cursor) []byte {
		k, _ := c.First()
		return k
	})
}

// LastIndex implements Storage.
func (s *BoltStorage) LastIndex() (uint64, error) {
	return s.boundary("last index", func(c *bolt.Cursor) []byte {
		k, _ := c.Last()
		return k
	})
}

func (s *BoltStorage) boundary(op string, seek func(*bolt.Cursor) []byte) (uint64, error) {
	var i uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k := seek(tx.Bucket(entryBucket).Cursor())
		// The bucket is empty.
		if k == nil {
			return nil
		}
		var err error
		i, err = DecodeIndex(k)
		return err
	})
	if err != nil {
		return 0, newError(op, ErrStorageIO, err)
	}
	return i, nil
}

// SaveBallot implements Storage.
func (s *BoltStorage) SaveBallot(b pb.Ballot) error {
	v, err := proto.Marshal(&b)
	if err != nil {
		return newError("save ballot", ErrStorageIO, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if old := meta.Get(ballotKey); old != nil {
			var prev pb.Ballot
			if err := proto.Unmarshal(old, &prev); err != nil {
				return err
			}
			if b.Term < prev.Term {
				return newError("save ballot", ErrBallotRegression,
					fmt.Errorf("term %d < stored term %d", b.Term, prev.Term))
			}
		}
		return meta.Put(ballotKey, v)
	})
	if errors.Is(err, ErrBallotRegression) {
		return err
	}
	if err != nil {
		return newError("save ballot", ErrStorageIO, err)
	}
	return nil
}

// LoadBallot implements Storage.
func (s *BoltStorage) LoadBallot() (pb.Ballot, error) {
	var b pb.Ballot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(ballotKey)
		if v == nil {
			return errors.New("missing ballot")
		}
		return proto.Unmarshal(v, &b)
	})
	if err != nil {
		return pb.Ballot{}, newError("load ballot", ErrStorageIO, err)
	}
	return b, nil
}

// Close implements Storage.
func (s *BoltStorage) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return newError("close", ErrStorageIO, err)
	}
	s.logger.Info("closed log storage", zap.String("path", s.path))
	return nil
}

var (
	boltReadsDesc = prometheus.NewDesc(
		"raftlog_storage_reads_total",
		"Total number of read transactions against the log storage",
		nil, nil)

	boltWritesDesc = prometheus.NewDesc(
		"raftlog_storage_writes_total",
		"Total number of page writes to the log storage",
		nil, nil)

	boltEntriesDesc = prometheus.NewDesc(
		"raftlog_storage_entries",
		"Number of log entries held by the log storage",
		nil, nil)
)

// Describe implements prometheus.Collector.
func (s *BoltStorage) Describe(ch chan<- *prometheus.Desc) {
	ch <- boltReadsDesc
	ch <- boltWritesDesc
	ch <- boltEntriesDesc
}

// Collect implements prometheus.Collector.
func (s *BoltStorage) Collect(ch chan<- prometheus.Metric) {
	stats := s.db.Stats()
	ch <- prometheus.MustNewConstMetric(boltReadsDesc, prometheus.CounterValue, float64(stats.TxN))
	ch <- prometheus.MustNewConstMetric(boltWritesDesc, prometheus.CounterValue, float64(stats.TxStats.Write))

	_ = s.db.View(func(tx *bolt.Tx) error {
		keyN := tx.Bucket(entryBucket).Stats().KeyN
		ch <- prometheus.MustNewConstMetric(boltEntriesDesc, prometheus.GaugeValue, float64(keyN))
		return nil
	})
}
