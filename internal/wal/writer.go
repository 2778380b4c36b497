package wal

import (
	"io"

	"github.com/aalhour/poolkv/internal/checksum"
	"github.com/aalhour/poolkv/internal/encoding"
	"github.com/aalhour/poolkv/internal/testutil"
)

// Writer appends records to a log file.
type Writer struct {
	dest        io.Writer
	blockOffset int
	logNumber   uint64
	size        int64

	typeCRC   [maxRecordType + 1]uint32
	headerBuf [HeaderSize]byte
	padding   [HeaderSize]byte
}

// NewWriter creates a writer appending to dest, which is positioned at the
// start of an empty log.
func NewWriter(dest io.Writer, logNumber uint64) *Writer {
	w := &Writer{dest: dest, logNumber: logNumber}
	for i := 0; i <= int(maxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes one logical record, splitting it across blocks when it
// does not fit. An empty record is written as a single zero-length fragment.
// It returns the number of bytes written, headers included.
func (w *Writer) AddRecord(data []byte) (int, error) {
	testutil.MaybeKill(testutil.KPWALAppend0)

	left := data
	total := 0
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				n, err := w.dest.Write(w.padding[:leftover])
				total += n
				w.size += int64(n)
				if err != nil {
					return total, err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragLen := min(len(left), avail)
		end := fragLen == len(left)

		var t RecordType
		switch {
		case begin && end:
			t = FullType
		case begin:
			t = FirstType
		case end:
			t = LastType
		default:
			t = MiddleType
		}

		n, err := w.emitPhysicalRecord(t, left[:fragLen])
		total += n
		if err != nil {
			return total, err
		}
		left = left[fragLen:]
		begin = false
		if end {
			return total, nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	w.headerBuf[4] = byte(n)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := checksum.Extend(w.typeCRC[t], payload)
	encoding.EncodeFixed32(w.headerBuf[:4], checksum.Mask(crc))

	total, err := w.dest.Write(w.headerBuf[:])
	w.size += int64(total)
	if err != nil {
		return total, err
	}
	written, err := w.dest.Write(payload)
	total += written
	w.size += int64(written)
	if err != nil {
		return total, err
	}
	w.blockOffset += HeaderSize + n
	return total, nil
}

// Size returns the bytes written so far.
func (w *Writer) Size() int64 { return w.size }

// LogNumber returns the log file number.
func (w *Writer) LogNumber() uint64 { return w.logNumber }

// Sync makes written records durable if the destination supports it.
func (w *Writer) Sync() error {
	testutil.MaybeKill(testutil.KPWALSync0)
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return err
		}
	}
	testutil.MaybeKill(testutil.KPWALSync1)
	return nil
}
