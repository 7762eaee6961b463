package adin2111

import (
	"errors"
	"strconv"
)

var (
	// ErrIDMismatch is matched by errors returned when the attached device
	// does not identify as an ADIN2111.
	ErrIDMismatch = errors.New("adin2111: device identification mismatch")
	// ErrResetTimeout is returned when the device does not report reset
	// completion after the settle time.
	ErrResetTimeout = errors.New("adin2111: reset timeout")
	// ErrFrameTooLarge is returned for frames longer than wire.MaxFrameSize.
	ErrFrameTooLarge = errors.New("adin2111: frame too large")
	// ErrNoFrame is returned by DrainFrame when the RX FIFO is empty.
	ErrNoFrame = errors.New("adin2111: no frame available")
	// ErrTxFull is returned when a frame does not fit in the TX FIFO or
	// the port's software queue.
	ErrTxFull = errors.New("adin2111: tx full")
	// ErrLinkDown is returned when submitting a frame to a port without link.
	ErrLinkDown = errors.New("adin2111: link down")
	// ErrBusUnavailable wraps bus failures and is returned when no bus is set.
	ErrBusUnavailable = errors.New("adin2111: bus unavailable")
	// ErrNotReady is returned by operations that need a probed device.
	ErrNotReady = errors.New("adin2111: device not ready")
	// ErrBadPort is returned for port numbers other than 0 and 1.
	ErrBadPort = errors.New("adin2111: invalid port")
	// ErrMDIOTimeout is returned when an MDIO access does not complete.
	ErrMDIOTimeout = errors.New("adin2111: mdio timeout")
)

// IDMismatchError reports the identity read from an unexpected device.
type IDMismatchError struct {
	Got DeviceIdentity
}

func (e *IDMismatchError) Error() string {
	return "adin2111: unexpected device chip=0x" + strconv.FormatUint(uint64(e.Got.ChipID), 16) +
		" phy=0x" + strconv.FormatUint(uint64(e.Got.PHYID), 16) +
		" caps=0x" + strconv.FormatUint(uint64(e.Got.Capabilities), 16)
}

func (e *IDMismatchError) Is(target error) bool { return target == ErrIDMismatch }
