// Package batch implements the write batch: the unit of atomic, durable
// mutation logged to the WAL and applied to a flavor's index.
//
// Format:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number of the first record (little-endian)
//	  - 4 bytes: record count (little-endian)
//	Records (repeated):
//	  - 1 byte: tag
//	  - length-prefixed key
//	  - length-prefixed value (TypeValue only)
//
// Record i carries sequence Sequence()+i.
package batch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aalhour/poolkv/internal/encoding"
)

// HeaderSize is the size of the batch header.
const HeaderSize = 12

// Record tags. Values are on disk.
const (
	TypeDeletion byte = 0x00
	TypeValue    byte = 0x01
)

var (
	// ErrCorrupted indicates a malformed write batch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// WriteBatch is a sequence of puts and deletes applied atomically.
type WriteBatch struct {
	data []byte
}

// New creates an empty batch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an encoded batch without copying it.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear resets the batch to empty.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	clear(wb.data)
}

// Data returns the encoded batch.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Size returns the encoded size in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of records.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

func (wb *WriteBatch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], n)
}

// Sequence returns the sequence number of the first record.
func (wb *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(wb.data[0:8])
}

// SetSequence sets the sequence number of the first record.
func (wb *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(wb.data[0:8], seq)
}

// LastSequence returns the sequence of the last record, or Sequence()-1 for
// an empty batch.
func (wb *WriteBatch) LastSequence() uint64 {
	return wb.Sequence() + uint64(wb.Count()) - 1
}

// Put adds an insert-or-overwrite record.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, TypeValue)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.setCount(wb.Count() + 1)
}

// Delete adds a removal record.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, TypeDeletion)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.setCount(wb.Count() + 1)
}

// Append copies every record of src onto wb.
func (wb *WriteBatch) Append(src *WriteBatch) {
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.setCount(wb.Count() + src.Count())
}

// Handler receives the records of a batch in order. Key and value slices
// alias the batch and are valid only during the call.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterate decodes the batch and calls handler for each record. A record
// count that disagrees with the header is ErrCorrupted.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]
	var found uint32
	for len(data) > 0 {
		tag := data[0]
		data = data[1:]

		key, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return fmt.Errorf("%w: key of record %d: %v", ErrCorrupted, found, err)
		}
		data = data[n:]

		switch tag {
		case TypeValue:
			value, n, err := encoding.DecodeLengthPrefixedSlice(data)
			if err != nil {
				return fmt.Errorf("%w: value of record %d: %v", ErrCorrupted, found, err)
			}
			data = data[n:]
			if err := handler.Put(key, value); err != nil {
				return err
			}
		case TypeDeletion:
			if err := handler.Delete(key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown tag 0x%02x", ErrCorrupted, tag)
		}
		found++
	}

	if found != wb.Count() {
		return fmt.Errorf("%w: header count %d, found %d", ErrCorrupted, wb.Count(), found)
	}
	return nil
}
