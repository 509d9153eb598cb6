package itch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// Encoder writes order events as length-prefixed ITCH 5.0 messages.
// Call Flush when done.
type Encoder struct {
	w     *bufio.Writer
	buf   [2 + addOrderMPIDLen]byte
	track uint16
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one event. A CancelOrder for domain.CancelAll becomes an
// Order Delete; any other cancel becomes an Order Cancel.
func (e *Encoder) Encode(ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.NewOrder:
		if err := checkUint32("size", ev.Size); err != nil {
			return err
		}
		if err := checkUint32("price", ev.Price); err != nil {
			return err
		}
		if len(ev.Symbol) > 8 {
			return fmt.Errorf("itch: symbol %q longer than 8 bytes", ev.Symbol)
		}
		msg := e.header(TypeAddOrder, addOrderLen, ev.Timestamp)
		binary.BigEndian.PutUint64(msg[11:19], ev.ID)
		msg[19] = 'B'
		if ev.Side == domain.SideSell {
			msg[19] = 'S'
		}
		binary.BigEndian.PutUint32(msg[20:24], uint32(ev.Size))
		copy(msg[24:32], "        ")
		copy(msg[24:32], ev.Symbol)
		binary.BigEndian.PutUint32(msg[32:36], uint32(ev.Price))
		return e.write(addOrderLen)

	case domain.CancelOrder:
		if ev.Size == domain.CancelAll {
			msg := e.header(TypeOrderDelete, orderDeleteLen, ev.Timestamp)
			binary.BigEndian.PutUint64(msg[11:19], ev.ID)
			return e.write(orderDeleteLen)
		}
		if err := checkUint32("size", ev.Size); err != nil {
			return err
		}
		msg := e.header(TypeOrderCancel, orderCancelLen, ev.Timestamp)
		binary.BigEndian.PutUint64(msg[11:19], ev.ID)
		binary.BigEndian.PutUint32(msg[19:23], uint32(ev.Size))
		return e.write(orderCancelLen)

	case domain.ReplaceOrder:
		if err := checkUint32("size", ev.Size); err != nil {
			return err
		}
		if err := checkUint32("price", ev.Price); err != nil {
			return err
		}
		msg := e.header(TypeOrderReplace, orderReplaceLen, ev.Timestamp)
		binary.BigEndian.PutUint64(msg[11:19], ev.OldID)
		binary.BigEndian.PutUint64(msg[19:27], ev.NewID)
		binary.BigEndian.PutUint32(msg[27:31], uint32(ev.Size))
		binary.BigEndian.PutUint32(msg[31:35], uint32(ev.Price))
		return e.write(orderReplaceLen)
	}
	return fmt.Errorf("itch: cannot encode %T", ev)
}

// WriteRaw writes an arbitrary message body behind a length prefix.
func (e *Encoder) WriteRaw(msg []byte) error {
	if len(msg) > math.MaxUint16 {
		return fmt.Errorf("itch: %d byte message too long", len(msg))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := e.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := e.w.Write(msg)
	return err
}

// Flush writes any buffered data.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// header clears the frame and fills the length prefix and the message
// header; it returns the message body slice.
func (e *Encoder) header(typ byte, n int, ts uint64) []byte {
	clear(e.buf[:])
	binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
	msg := e.buf[2 : 2+n]
	msg[0] = typ
	e.track++
	binary.BigEndian.PutUint16(msg[3:5], e.track)
	for i := 0; i < 6; i++ {
		msg[5+i] = byte(ts >> (40 - 8*i))
	}
	return msg
}

func (e *Encoder) write(n int) error {
	_, err := e.w.Write(e.buf[:2+n])
	return err
}

func checkUint32(field string, v int64) error {
	if v < 0 || v > math.MaxUint32 {
		return fmt.Errorf("itch: %s %d does not fit the wire format", field, v)
	}
	return nil
}
