package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("megacache: corrupt entry")
	magic4     = [...]byte{'M', 'G', 'C', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | expiresAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(expiresAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry returns the absolute expiry and a zero-copy view of the payload.
func DecodeEntry(b []byte) (expiresAt time.Time, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 6

	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact length, no trailing bytes
		return time.Time{}, nil, ErrCorrupt
	}

	return time.Unix(0, exp), b[off : off+vlen], nil
}

// IsEntry reports whether b starts with the entry header.
func IsEntry(b []byte) bool { return hasMagic(b) }

// Counters written natively by a backend (INCRBY, memcached incr) are bare
// ASCII decimals and carry no envelope.
func EncodeCounter(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}

func DecodeCounter(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// memcached pads decremented values with trailing spaces
		n, err = strconv.ParseInt(string(bytes.TrimRight(b, " ")), 10, 64)
		if err != nil {
			return 0, false
		}
	}
	return n, true
}
