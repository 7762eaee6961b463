// Package wire implements the ADIN2111 SPI transaction format.
//
// Every transaction starts with a 2 byte big endian command header:
//
//	bit 15     direction, set for reads
//	bits 14:1  register address
//	bit 0      always clear
//
// The header is followed by the register payload, big endian and as wide
// as the register's declared width, or by an arbitrary length byte stream
// for FIFO data registers.
package wire

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/soypat/adin2111/regs"
)

// HeaderLen is the length of the command header in bytes.
const HeaderLen = 2

const (
	dirRead   = 1 << 15
	addrField = 0x3fff
)

// Direction of a transaction.
type Direction uint8

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	switch d {
	case Write:
		return "write"
	case Read:
		return "read"
	}
	return "Direction(" + strconv.Itoa(int(d)) + ")"
}

// Transaction is a single register access.
type Transaction struct {
	Dir  Direction
	Addr regs.Addr
	// Value is written on Write transactions and ignored on Read.
	Value uint32
}

// Len returns the number of bytes tx occupies on the bus.
func (tx Transaction) Len() int { return HeaderLen + regs.Width(tx.Addr) }

func (tx Transaction) String() string {
	s := tx.Dir.String() + " " + "0x" + strconv.FormatUint(uint64(tx.Addr), 16)
	if tx.Dir == Write {
		s += "=0x" + strconv.FormatUint(uint64(tx.Value), 16)
	}
	return s
}

// Encode returns the bus representation of tx.
func Encode(tx Transaction) []byte {
	return AppendEncode(make([]byte, 0, tx.Len()), tx)
}

// AppendEncode appends the bus representation of tx to dst.
// Read payloads are zero filled.
func AppendEncode(dst []byte, tx Transaction) []byte {
	dst = AppendStreamHeader(dst, tx.Dir, tx.Addr)
	v := tx.Value
	if tx.Dir == Read {
		v = 0
	}
	return appendValue(dst, regs.Width(tx.Addr), v)
}

// AppendStreamHeader appends the command header for a transaction of
// direction dir on addr. Callers append the payload themselves and
// validate addresses that do not come from the regs package with CheckAddr.
func AppendStreamHeader(dst []byte, dir Direction, addr regs.Addr) []byte {
	hdr := uint16(addr&addrField) << 1
	if dir == Read {
		hdr |= dirRead
	}
	return binary.BigEndian.AppendUint16(dst, hdr)
}

// Decode validates the response resp received while tx was clocked out and
// returns the register value for reads. Writes decode to 0.
func Decode(tx Transaction, resp []byte) (uint32, error) {
	width := regs.Width(tx.Addr)
	if width == 0 {
		return 0, &ProtocolError{Kind: KindStreamAccess, Addr: tx.Addr}
	}
	if len(resp) != HeaderLen+width {
		return 0, &ProtocolError{Kind: KindMalformed, Addr: tx.Addr, Got: len(resp), Want: HeaderLen + width}
	}
	if tx.Dir != Read {
		return 0, nil
	}
	return value(resp[HeaderLen:]), nil
}

// CheckAddr returns a ProtocolError of kind KindMalformed if addr lies
// outside the register space.
func CheckAddr(addr regs.Addr) error {
	if addr > regs.MaxAddr {
		return &ProtocolError{Kind: KindMalformed, Addr: addr}
	}
	return nil
}

// ParseHeader decodes the command header at the start of b. Headers with
// the low bit set or addressing beyond regs.MaxAddr are malformed.
func ParseHeader(b []byte) (Direction, regs.Addr, error) {
	if len(b) < HeaderLen {
		return 0, 0, &ProtocolError{Kind: KindMalformed, Got: len(b), Want: HeaderLen}
	}
	hdr := binary.BigEndian.Uint16(b)
	addr := regs.Addr(hdr>>1) & addrField
	if hdr&1 != 0 {
		return 0, 0, &ProtocolError{Kind: KindMalformed, Addr: addr, Got: len(b), Want: HeaderLen}
	}
	if err := CheckAddr(addr); err != nil {
		return 0, 0, err
	}
	dir := Write
	if hdr&dirRead != 0 {
		dir = Read
	}
	return dir, addr, nil
}

// ParseTransaction decodes a complete register transaction as seen on
// the controller-out line. Stream registers are rejected.
func ParseTransaction(b []byte) (Transaction, error) {
	dir, addr, err := ParseHeader(b)
	if err != nil {
		return Transaction{}, err
	}
	width := regs.Width(addr)
	if width == 0 {
		return Transaction{}, &ProtocolError{Kind: KindStreamAccess, Addr: addr}
	}
	if len(b) != HeaderLen+width {
		return Transaction{}, &ProtocolError{Kind: KindMalformed, Addr: addr, Got: len(b), Want: HeaderLen + width}
	}
	tx := Transaction{Dir: dir, Addr: addr}
	if dir == Write {
		tx.Value = value(b[HeaderLen:])
	}
	return tx, nil
}

// PutValue writes v into dst using the width of len(dst), big endian.
func PutValue(dst []byte, v uint32) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(dst, v)
	}
}

func appendValue(dst []byte, width int, v uint32) []byte {
	switch width {
	case 1:
		return append(dst, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(dst, uint16(v))
	case 4:
		return binary.BigEndian.AppendUint32(dst, v)
	}
	return dst
}

func value(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(b))
	case 4:
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// ErrorKind classifies a ProtocolError.
type ErrorKind uint8

const (
	_ ErrorKind = iota
	// KindMalformed is returned when data on the wire does not match the expected framing.
	KindMalformed
	// KindStreamAccess is returned when a FIFO data register is accessed as a register.
	KindStreamAccess
	// KindFrameSize is returned when a FIFO reports an impossible frame size.
	KindFrameSize
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindStreamAccess:
		return "stream register accessed as register"
	case KindFrameSize:
		return "bad frame size"
	}
	return "ErrorKind(" + strconv.Itoa(int(k)) + ")"
}

// ErrMalformed is matched by every ProtocolError of kind KindMalformed.
var ErrMalformed = errors.New("wire: malformed transaction")

// ProtocolError reports malformed wire data. It is never the result of
// routine device behaviour.
type ProtocolError struct {
	Kind ErrorKind
	Addr regs.Addr
	Got  int
	Want int
}

func (e *ProtocolError) Error() string {
	s := "wire: " + e.Kind.String() + " at 0x" + strconv.FormatUint(uint64(e.Addr), 16)
	if e.Got != 0 || e.Want != 0 {
		s += " (got " + strconv.Itoa(e.Got) + " want " + strconv.Itoa(e.Want) + ")"
	}
	return s
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrMalformed && e.Kind == KindMalformed
}
