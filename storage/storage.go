// Package storage persists the Raft log and the node's ballot.
//
// Entries are keyed by their index. Keys are encoded as fixed-width big-endian integers, so the
// byte order every backend iterates in is the numeric index order. CompareIndexKeys is the
// numeric comparator that defines this order; backends and tests check against it.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ulysseses/raftlog/pb"
)

// Storage is a durable, index-ordered store of log entries plus a single ballot record.
// Writes are linearized with respect to each other and are durable when they return.
type Storage interface {
	// InsertEntry upserts the entry at index i.
	InsertEntry(i uint64, e pb.Entry) error

	// InsertEntries upserts entries keyed by their own Index in one durable batch.
	InsertEntries(entries []pb.Entry) error

	// GetEntry returns a copy of the entry at index i, if present.
	GetEntry(i uint64) (pb.Entry, bool, error)

	// DeleteEntry removes the entry at index i. Deleting an absent entry is not an error.
	DeleteEntry(i uint64) error

	// Entries returns the entries within [lo, hi] in ascending index order.
	Entries(lo, hi uint64) ([]pb.Entry, error)

	// HeadIndex returns the smallest persisted index, or 0 if there is none.
	HeadIndex() (uint64, error)

	// LastIndex returns the largest persisted index, or 0 if there is none.
	LastIndex() (uint64, error)

	// SaveBallot overwrites the ballot. A ballot whose term is lower than the stored one is
	// rejected with ErrBallotRegression.
	SaveBallot(b pb.Ballot) error

	// LoadBallot returns the stored ballot.
	LoadBallot() (pb.Ballot, error)

	// Close releases the store.
	Close() error
}

// Error kinds. Match them with errors.Is.
var (
	// ErrStorageInit is returned when initial state cannot be created, e.g. because a previous
	// store exists at the location and was not destroyed.
	ErrStorageInit = errors.New("storage: init failed")

	// ErrStorageOpen is returned when a store is missing or corrupt.
	ErrStorageOpen = errors.New("storage: open failed")

	// ErrStorageIO is returned for I/O failures of the underlying store.
	ErrStorageIO = errors.New("storage: i/o failed")

	// ErrBallotRegression is returned when a ballot would decrease the persisted term.
	ErrBallotRegression = errors.New("storage: ballot term regression")
)

// Error is a storage error carrying the failed operation and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// IndexKeySize is the size of an encoded index key.
const IndexKeySize = 8

// EncodeIndex encodes an index as a fixed-width big-endian key.
func EncodeIndex(i uint64) []byte {
	k := make([]byte, IndexKeySize)
	binary.BigEndian.PutUint64(k, i)
	return k
}

// DecodeIndex decodes a key produced by EncodeIndex.
func DecodeIndex(k []byte) (uint64, error) {
	if len(k) != IndexKeySize {
		return 0, fmt.Errorf("storage: index key must be %d bytes, got %d", IndexKeySize, len(k))
	}
	return binary.BigEndian.Uint64(k), nil
}

// CompareIndexKeys orders two encoded index keys by their numeric index. For well-formed keys
// it agrees with bytes.Compare; malformed keys sort by raw bytes after all well-formed keys.
func CompareIndexKeys(a, b []byte) int {
	x, errA := DecodeIndex(a)
	y, errB := DecodeIndex(b)
	switch {
	case errA != nil && errB != nil:
		return bytes.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
