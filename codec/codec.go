// Package codec serializes build requests and responses in the compiler
// server's binary wire format.
//
// Integers are 4-byte little-endian. Text is a 4-byte count of UTF-16 code
// units followed by that many code units, with no terminator. The decoder is
// the exact structural inverse of the encoder and refuses declared lengths
// above MaxTextLength / MaxFrameSize instead of allocating them.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

const (
	// MaxTextLength bounds the declared code-unit count of one string (32 MiB of UTF-16).
	MaxTextLength = 1 << 24
	// MaxFrameSize bounds the declared byte length of a request frame.
	MaxFrameSize = 1 << 26
)

var (
	ErrTextTooLong  = errors.New("codec: text length out of range")
	ErrFrameTooLong = errors.New("codec: frame length out of range")
	ErrTruncated    = errors.New("codec: truncated payload")
	ErrInvalidText  = errors.New("codec: text is not valid UTF-8")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// appendText appends s as count + UTF-16LE code units. s must be valid
// UTF-8: the encoder would otherwise substitute U+FFFD without notice.
func appendText(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidText, s)
	}
	units, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("codec: encode text: %w", err)
	}
	count := len(units) / 2
	if count > MaxTextLength {
		return nil, fmt.Errorf("%w: %d code units", ErrTextTooLong, count)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	return append(buf, units...), nil
}

// decodeText converts raw UTF-16LE code units to a Go string.
func decodeText(units []byte) (string, error) {
	if len(units) == 0 {
		return "", nil
	}
	b, err := utf16le.NewDecoder().Bytes(units)
	if err != nil {
		return "", fmt.Errorf("codec: decode text: %w", err)
	}
	return string(b), nil
}

// checkTextLength validates a declared code-unit count and returns its byte size.
func checkTextLength(count int32) (int, error) {
	if count < 0 || count > MaxTextLength {
		return 0, fmt.Errorf("%w: %d code units", ErrTextTooLong, count)
	}
	return int(count) * 2, nil
}

// payloadReader walks a fully received request payload.
type payloadReader struct {
	data []byte
	off  int
}

func (r *payloadReader) take(n int) ([]byte, error) {
	if n > len(r.data)-r.off {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *payloadReader) int32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *payloadReader) text() (string, error) {
	count, err := r.int32()
	if err != nil {
		return "", err
	}
	size, err := checkTextLength(count)
	if err != nil {
		return "", err
	}
	units, err := r.take(size)
	if err != nil {
		return "", err
	}
	return decodeText(units)
}
