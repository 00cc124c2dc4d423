// Package wal implements the write-ahead log: record encoding, the
// lock-free concurrent log buffer, and the log manager that owns the
// two on-disk log file backends.
package wal

import (
	"encoding/binary"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/pageid"
)

// RecordType tags the wire variant.
type RecordType uint16

const (
	Begin        RecordType = 1
	Commit       RecordType = 2
	Abort        RecordType = 3
	Update       RecordType = 4
	EOL          RecordType = 5
	Compensation RecordType = 6
	Checkpoint   RecordType = 7
)

// Record is the tagged variant over the log's record shapes. Only the
// fields relevant to Type are meaningful.
type Record struct {
	Type RecordType

	PrevLSN uint64
	TID     uint64

	// Update / Compensation only.
	PageID pageid.PageID
	Offset uint64
	Redo   []byte
	Undo   []byte

	// Checkpoint only.
	CheckpointLSN uint64
}

const typeTagSize = 2

// EncodedSize returns the exact wire size of r, as Encode will produce.
func (r *Record) EncodedSize() int {
	switch r.Type {
	case Begin, Commit, Abort, EOL:
		return typeTagSize + 8 + 8
	case Update, Compensation:
		return typeTagSize + 8 + 8 + 8 + 8 + 8 + len(r.Redo) + len(r.Undo)
	case Checkpoint:
		return typeTagSize + 8
	default:
		return 0
	}
}

// Encode serializes r into buf (which must be at least EncodedSize()
// bytes), little-endian fixed-width fields.
func (r *Record) Encode(buf []byte) int {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Type))
	off := typeTagSize
	switch r.Type {
	case Begin, Commit, Abort, EOL:
		binary.LittleEndian.PutUint64(buf[off:], r.PrevLSN)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], r.TID)
		off += 8
	case Update, Compensation:
		binary.LittleEndian.PutUint64(buf[off:], r.PrevLSN)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], r.TID)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], uint64(r.PageID))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], r.Offset)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], uint64(len(r.Redo)))
		off += 8
		off += copy(buf[off:], r.Redo)
		off += copy(buf[off:], r.Undo)
	case Checkpoint:
		binary.LittleEndian.PutUint64(buf[off:], r.CheckpointLSN)
		off += 8
	}
	return off
}

// Decode parses a single record from buf, returning the number of
// bytes consumed. P7 requires Decode(Encode(r)) == r for all variants.
func Decode(buf []byte) (*Record, int, error) {
	if len(buf) < typeTagSize {
		return nil, 0, bmerr.New(bmerr.Corruption)
	}
	r := &Record{Type: RecordType(binary.LittleEndian.Uint16(buf[0:2]))}
	off := typeTagSize
	need := func(n int) error {
		if len(buf) < off+n {
			return bmerr.New(bmerr.Corruption)
		}
		return nil
	}
	switch r.Type {
	case Begin, Commit, Abort, EOL:
		if err := need(16); err != nil {
			return nil, 0, err
		}
		r.PrevLSN = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		r.TID = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	case Update, Compensation:
		if err := need(40); err != nil {
			return nil, 0, err
		}
		r.PrevLSN = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		r.TID = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		r.PageID = pageid.PageID(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		r.Offset = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		length := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		if err := need(2 * int(length)); err != nil {
			return nil, 0, err
		}
		r.Redo = append([]byte(nil), buf[off:off+int(length)]...)
		off += int(length)
		r.Undo = append([]byte(nil), buf[off:off+int(length)]...)
		off += int(length)
	case Checkpoint:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		r.CheckpointLSN = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	default:
		return nil, 0, bmerr.New(bmerr.Corruption)
	}
	return r, off, nil
}
