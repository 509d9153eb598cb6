// Package itch decodes and encodes the subset of NASDAQ TotalView-ITCH 5.0
// that drives the order books: add (A, F), cancel (X), delete (D) and
// replace (U). Every message in a file is preceded by a 2-byte big-endian
// length.
package itch

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// Message types the decoder turns into events.
const (
	TypeAddOrder     byte = 'A'
	TypeAddOrderMPID byte = 'F'
	TypeOrderCancel  byte = 'X'
	TypeOrderDelete  byte = 'D'
	TypeOrderReplace byte = 'U'
)

// Wire lengths, header included.
const (
	headerLen       = 11 // type, stock locate, tracking number, timestamp
	addOrderLen     = 36
	addOrderMPIDLen = 40
	orderCancelLen  = 23
	orderDeleteLen  = 19
	orderReplaceLen = 35
)

// ErrMalformedMessage is returned for a message shorter than its type requires.
var ErrMalformedMessage = errors.New("malformed itch message")

// ReaderStats counts what the reader has seen.
type ReaderStats struct {
	Messages  uint64 `json:"messages"`
	Events    uint64 `json:"events"`
	Skipped   uint64 `json:"skipped"`
	Malformed uint64 `json:"malformed"`
}

// Reader turns an ITCH byte stream into order events.
type Reader struct {
	r       *bufio.Reader
	buf     []byte
	symbols map[[8]byte]string
	stats   ReaderStats
}

// NewReader wraps r. Wrap files in nothing else; the reader buffers.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       bufio.NewReaderSize(r, 1<<16),
		buf:     make([]byte, 64),
		symbols: make(map[[8]byte]string),
	}
}

// Stats returns the reader counters.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Next returns the next order event, skipping message types that carry
// none and malformed messages. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF when the stream stops inside a message.
func (r *Reader) Next() (domain.Event, error) {
	for {
		msg, err := r.readFrame()
		if err != nil {
			return nil, err
		}
		r.stats.Messages++

		ev, err := r.decode(msg)
		switch {
		case errors.Is(err, ErrMalformedMessage):
			r.stats.Malformed++
			continue
		case err != nil:
			return nil, err
		case ev == nil:
			r.stats.Skipped++
			continue
		}
		r.stats.Events++
		return ev, nil
	}
}

func (r *Reader) readFrame() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("itch: reading length: %w", err)
		}
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	msg := r.buf[:n]
	if _, err := io.ReadFull(r.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("itch: reading %d byte message: %w", n, err)
	}
	return msg, nil
}

// decode returns nil, nil for message types that are not order events.
func (r *Reader) decode(msg []byte) (domain.Event, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	typ := msg[0]
	switch typ {
	case TypeAddOrder, TypeAddOrderMPID:
		want := addOrderLen
		if typ == TypeAddOrderMPID {
			want = addOrderMPIDLen
		}
		if len(msg) < want {
			return nil, shortMessage(typ, len(msg), want)
		}
		side := domain.SideBuy
		if msg[19] == 'S' {
			side = domain.SideSell
		}
		return domain.NewOrder{
			Timestamp: timestamp(msg),
			ID:        binary.BigEndian.Uint64(msg[11:19]),
			Side:      side,
			Size:      int64(binary.BigEndian.Uint32(msg[20:24])),
			Symbol:    r.symbol(msg[24:32]),
			Price:     int64(binary.BigEndian.Uint32(msg[32:36])),
		}, nil

	case TypeOrderCancel:
		if len(msg) < orderCancelLen {
			return nil, shortMessage(typ, len(msg), orderCancelLen)
		}
		return domain.CancelOrder{
			Timestamp: timestamp(msg),
			ID:        binary.BigEndian.Uint64(msg[11:19]),
			Size:      int64(binary.BigEndian.Uint32(msg[19:23])),
		}, nil

	case TypeOrderDelete:
		if len(msg) < orderDeleteLen {
			return nil, shortMessage(typ, len(msg), orderDeleteLen)
		}
		return domain.CancelOrder{
			Timestamp: timestamp(msg),
			ID:        binary.BigEndian.Uint64(msg[11:19]),
			Size:      domain.CancelAll,
		}, nil

	case TypeOrderReplace:
		if len(msg) < orderReplaceLen {
			return nil, shortMessage(typ, len(msg), orderReplaceLen)
		}
		return domain.ReplaceOrder{
			Timestamp: timestamp(msg),
			OldID:     binary.BigEndian.Uint64(msg[11:19]),
			NewID:     binary.BigEndian.Uint64(msg[19:27]),
			Size:      int64(binary.BigEndian.Uint32(msg[27:31])),
			Price:     int64(binary.BigEndian.Uint32(msg[31:35])),
		}, nil
	}
	return nil, nil
}

// symbol interns the space-padded stock field.
func (r *Reader) symbol(field []byte) string {
	var key [8]byte
	copy(key[:], field)
	if s, ok := r.symbols[key]; ok {
		return s
	}
	s := string(bytes.TrimRight(field, " "))
	r.symbols[key] = s
	return s
}

func shortMessage(typ byte, got, want int) error {
	return fmt.Errorf("%w: type %q is %d bytes, want %d", ErrMalformedMessage, typ, got, want)
}

// timestamp reads the 6-byte nanoseconds-since-midnight field.
func timestamp(msg []byte) uint64 {
	b := msg[5:11]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
