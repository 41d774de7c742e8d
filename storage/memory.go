package storage

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/ulysseses/raftlog/pb"
)

// MemoryStorage is a volatile Storage kept in a B-tree ordered by index.
type MemoryStorage struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[pb.Entry]
	ballot pb.Ballot
	closed bool
}

var _ Storage = (*MemoryStorage)(nil)

func entryLess(a, b pb.Entry) bool {
	return a.Index < b.Index
}

// NewMemory returns an empty MemoryStorage holding the zero ballot.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		tree: btree.NewG(32, entryLess),
	}
}

func (s *MemoryStorage) checkOpen(op string) error {
	if s.closed {
		return newError(op, ErrStorageIO, fmt.Errorf("storage closed"))
	}
	return nil
}

// InsertEntry implements Storage. The entry's Index is set to i.
func (s *MemoryStorage) InsertEntry(i uint64, e pb.Entry) error {
	e.Index = i
	return s.InsertEntries([]pb.Entry{e})
}

// InsertEntries implements Storage.
func (s *MemoryStorage) InsertEntries(entries []pb.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("insert entry"); err != nil {
		return err
	}
	for _, e := range entries {
		s.tree.ReplaceOrInsert(e.Clone())
	}
	return nil
}

// GetEntry implements Storage.
func (s *MemoryStorage) GetEntry(i uint64) (pb.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get entry"); err != nil {
		return pb.Entry{}, false, err
	}
	e, ok := s.tree.Get(pb.Entry{Index: i})
	if !ok {
		return pb.Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

// DeleteEntry implements Storage.
func (s *MemoryStorage) DeleteEntry(i uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("delete entry"); err != nil {
		return err
	}
	s.tree.Delete(pb.Entry{Index: i})
	return nil
}

// Entries implements Storage.
func (s *MemoryStorage) Entries(lo, hi uint64) ([]pb.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("scan entries"); err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, nil
	}
	var entries []pb.Entry
	s.tree.AscendGreaterOrEqual(pb.Entry{Index: lo}, func(e pb.Entry) bool {
		if e.Index > hi {
			return false
		}
		entries = append(entries, e.Clone())
		return true
	})
	return entries, nil
}

// HeadIndex implements Storage.
func (s *MemoryStorage) HeadIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("head index"); err != nil {
		return 0, err
	}
	e, ok := s.tree.Min()
	if !ok {
		return 0, nil
	}
	return e.Index, nil
}

// LastIndex implements Storage.
func (s *MemoryStorage) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("last index"); err != nil {
		return 0, err
	}
	e, ok := s.tree.Max()
	if !ok {
		return 0, nil
	}
	return e.Index, nil
}

// SaveBallot implements Storage.
func (s *MemoryStorage) SaveBallot(b pb.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("save ballot"); err != nil {
		return err
	}
	if b.Term < s.ballot.Term {
		return newError("save ballot", ErrBallotRegression,
			fmt.Errorf("term %d < stored term %d", b.Term, s.ballot.Term))
	}
	s.ballot = b
	return nil
}

// LoadBallot implements Storage.
func (s *MemoryStorage) LoadBallot() (pb.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("load ballot"); err != nil {
		return pb.Ballot{}, err
	}
	return s.ballot, nil
}

// Close implements Storage. A closed MemoryStorage fails every operation with ErrStorageIO.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
