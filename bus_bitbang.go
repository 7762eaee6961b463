//go:build tinygo

package adin2111

import (
	"device"
	"machine"
)

// BitbangBus is a four wire SPI mode 0 Bus driven from GPIOs. Useful on
// boards without a free SPI peripheral or PIO block.
type BitbangBus struct {
	SCK machine.Pin
	SDO machine.Pin
	SDI machine.Pin
	CS  machine.Pin
	// Delay is the number of nops in a quarter clock period.
	Delay uint32
}

// Configure sets up the pins and leaves the bus idle with CS deasserted.
func (s *BitbangBus) Configure() {
	s.SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDO.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.SDI.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	s.CS.High()
	s.SCK.Low()
	s.SDO.Low()
	if s.Delay == 0 {
		s.Delay = 1
	}
}

// Tx clocks out w while sampling r within a single chip select assertion.
func (s *BitbangBus) Tx(w, r []byte) error {
	s.CS.Low()
	s.delay()
	for i, b := range w {
		r[i] = s.transfer(b)
	}
	s.SDO.Low()
	s.CS.High()
	return nil
}

//go:inline
func (s *BitbangBus) transfer(b byte) (out byte) {
	for bit := 7; bit >= 0; bit-- {
		if s.bitTransfer(b&(1<<bit) != 0) {
			out |= 1 << bit
		}
	}
	return out
}

// The device samples SDO on the rising edge and shifts SDI out on the falling edge.
//
//go:inline
func (s *BitbangBus) bitTransfer(b bool) bool {
	s.SDO.Set(b)
	s.delay()
	s.SCK.High()
	s.delay()
	in := s.SDI.Get()
	s.delay()
	s.SCK.Low()
	s.delay()
	return in
}

// delay represents a quarter of the clock cycle
//
//go:inline
func (s *BitbangBus) delay() {
	for i := uint32(0); i < s.Delay; i++ {
		device.Asm("nop")
	}
}
