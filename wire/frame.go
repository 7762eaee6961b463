package wire

import (
	"encoding/binary"

	"github.com/soypat/adin2111/regs"
)

// FrameHeaderLen is the length of the header that precedes every frame in
// the TX and RX FIFOs. It is counted in TX_FSIZE and RX_FSIZE.
const FrameHeaderLen = 2

// MaxFrameSize is the largest frame the FIFOs accept, header excluded.
const MaxFrameSize = 2048

// FrameHeader precedes frames in the FIFOs. Bit 8 selects the egress port
// on TX and reports the ingress port on RX.
type FrameHeader uint16

const frameHeaderPort = 1 << 8

// NewFrameHeader returns the header for port (0 or 1).
func NewFrameHeader(port int) FrameHeader {
	if port == 1 {
		return frameHeaderPort
	}
	return 0
}

// Port returns the port encoded in the header.
func (h FrameHeader) Port() int {
	if h&frameHeaderPort != 0 {
		return 1
	}
	return 0
}

// Put writes the header to the first FrameHeaderLen bytes of b.
func (h FrameHeader) Put(b []byte) { binary.BigEndian.PutUint16(b, uint16(h)) }

// ParseFrameHeader decodes the frame header at the start of b.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderLen {
		return 0, &ProtocolError{Kind: KindMalformed, Got: len(b), Want: FrameHeaderLen}
	}
	return FrameHeader(binary.BigEndian.Uint16(b)), nil
}

// AppendTxStream appends a complete TX FIFO write for frame to dst:
// command header, frame header and frame bytes.
func AppendTxStream(dst []byte, port int, frame []byte) []byte {
	dst = AppendStreamHeader(dst, Write, regs.TX)
	dst = binary.BigEndian.AppendUint16(dst, uint16(NewFrameHeader(port)))
	return append(dst, frame...)
}

// CheckFrameSize validates a FIFO size register value. Sizes include the
// frame header.
func CheckFrameSize(addr regs.Addr, fsize uint32) error {
	if fsize < FrameHeaderLen || fsize > MaxFrameSize+FrameHeaderLen {
		return &ProtocolError{Kind: KindFrameSize, Addr: addr, Got: int(fsize), Want: MaxFrameSize + FrameHeaderLen}
	}
	return nil
}
