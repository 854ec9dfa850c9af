// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package encode provides the byte-encoding helpers for the fixed-size record
// layouts and instruction payloads.
package encode

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

var (
	// IntCoder is the core-wide integer byte-encoding order. IntCoder is
	// LittleEndian so that the stored record layouts and instruction argument
	// payloads interoperate with the original on-chain account images.
	IntCoder = binary.LittleEndian
	// A byte-slice representation of boolean false.
	ByteFalse = []byte{0}
	// A byte-slice representation of boolean true.
	ByteTrue = []byte{1}
)

// Uint16Bytes converts the uint16 to a length-2, little-endian encoded byte
// slice.
func Uint16Bytes(i uint16) []byte {
	b := make([]byte, 2)
	IntCoder.PutUint16(b, i)
	return b
}

// Uint32Bytes converts the uint32 to a length-4, little-endian encoded byte
// slice.
func Uint32Bytes(i uint32) []byte {
	b := make([]byte, 4)
	IntCoder.PutUint32(b, i)
	return b
}

// Uint64Bytes converts the uint64 to a length-8, little-endian encoded byte
// slice.
func Uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, i)
	return b
}

// CopySlice makes a copy of the slice.
func CopySlice(b []byte) []byte {
	newB := make([]byte, len(b))
	copy(newB, b)
	return newB
}

// RandomBytes returns a byte slice with the specified length of random bytes.
func RandomBytes(len int) []byte {
	bytes := make([]byte, len)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("error reading random bytes: " + err.Error())
	}
	return bytes
}

// ClearBytes zeroes the byte slice.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// UnixSeconds returns the time as the number of seconds since the epoch,
// truncating any sub-second component.
func UnixSeconds(t time.Time) uint64 {
	return uint64(t.Unix())
}

// DecodeUnixSeconds interprets bytes as a uint64 Unix timestamp in seconds and
// creates a time.Time.
func DecodeUnixSeconds(b []byte) time.Time {
	return time.Unix(int64(IntCoder.Uint64(b)), 0).UTC()
}
