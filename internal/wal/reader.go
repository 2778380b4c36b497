package wal

import (
	"errors"
	"io"

	"github.com/aalhour/poolkv/internal/checksum"
	"github.com/aalhour/poolkv/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a fragment with an invalid checksum.
	ErrCorruptedRecord = errors.New("wal: corrupted record (bad checksum)")

	// ErrInvalidRecordType indicates an unrecognized fragment type.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedEOF indicates the log ended inside a split record.
	ErrUnexpectedEOF = errors.New("wal: unexpected end of file")

	// ErrUnexpectedMiddleRecord indicates a middle fragment without a first.
	ErrUnexpectedMiddleRecord = errors.New("wal: unexpected middle record")

	// ErrUnexpectedLastRecord indicates a last fragment without a first.
	ErrUnexpectedLastRecord = errors.New("wal: unexpected last record")

	// ErrUnexpectedFirstRecord indicates a new record began before the
	// previous split record ended.
	ErrUnexpectedFirstRecord = errors.New("wal: unexpected first record")
)

// Reporter is told about skipped data.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads logical records from a log file.
//
// A record cut short by the end of the file (a torn write at crash time) is
// reported as io.EOF or ErrUnexpectedEOF, never as corruption. Checksum
// failures are reported to the Reporter and the fragment is skipped.
type Reader struct {
	src          io.Reader
	reporter     Reporter
	verify       bool
	backingStore []byte
	buffer       []byte
	eof          bool
	offset       int64
	lastEnd      int64

	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a reader. reporter may be nil.
func NewReader(src io.Reader, reporter Reporter, verifyChecksum bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		verify:       verifyChecksum,
		backingStore: make([]byte, BlockSize),
	}
}

// ReadRecord returns the next logical record, or io.EOF at the end of the
// log. The returned slice is owned by the caller.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		t, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		switch t {
		case FullType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			return fragment, nil

		case FirstType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedMiddleRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedLastRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return result, nil

		default:
			r.reportCorruption(len(fragment), ErrInvalidRecordType)
		}
	}
}

func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}
			// Skip the block trailer (padding) and read the next block.
			r.offset += int64(len(r.buffer))
			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					return 0, nil, err
				}
				r.eof = true
				if n == 0 {
					return 0, nil, io.EOF
				}
			}
			r.buffer = r.backingStore[:n]
			continue
		}

		header := r.buffer[:HeaderSize]
		stored := encoding.DecodeFixed32(header[0:4])
		length := int(header[4]) | int(header[5])<<8
		t := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			if r.eof {
				// Torn tail.
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrCorruptedRecord)
			r.advance(len(r.buffer))
			continue
		}

		if t == ZeroType && length == 0 {
			r.advance(HeaderSize)
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]
		if r.verify {
			crc := checksum.Extend(checksum.Value([]byte{byte(t)}), payload)
			if checksum.Mask(crc) != stored {
				r.reportCorruption(HeaderSize+length, ErrCorruptedRecord)
				r.advance(HeaderSize + length)
				continue
			}
		}

		result := make([]byte, length)
		copy(result, payload)
		r.advance(HeaderSize + length)
		r.lastEnd = r.offset
		return t, result, nil
	}
}

func (r *Reader) advance(n int) {
	r.buffer = r.buffer[n:]
	r.offset += int64(n)
}

func (r *Reader) reportCorruption(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

// LastRecordEnd returns the file offset just past the last good fragment.
// Recovery truncates a torn log to this offset.
func (r *Reader) LastRecordEnd() int64 {
	return r.lastEnd
}
