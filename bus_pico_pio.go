//go:build pico

package adin2111

import (
	"log/slog"
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoPins are the RP2040 pins wired to the ADIN2111.
type PicoPins struct {
	SCK, SDO, SDI machine.Pin
	CS            machine.Pin
	// IRQ is the active-low interrupt output. machine.NoPin selects polling.
	IRQ machine.Pin
	// Reset is the active-low reset input. machine.NoPin selects software resets.
	Reset machine.Pin
}

// DefaultPicoPins matches the EVAL-ADIN2111 wiring to a Pico's SPI0 header.
func DefaultPicoPins() PicoPins {
	return PicoPins{
		SCK:   machine.GPIO18,
		SDO:   machine.GPIO19,
		SDI:   machine.GPIO16,
		CS:    machine.GPIO17,
		IRQ:   machine.GPIO20,
		Reset: machine.GPIO21,
	}
}

// NewPico claims a PIO state machine for the SPI bus and returns a detached
// device and a Config with the interrupt and reset lines filled in.
// The ADIN2111 SPI runs at up to 25MHz.
func NewPico(pins PicoPins, baud uint32, logger *slog.Logger) (*Device, Config, error) {
	pins.CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pins.CS.High()
	sm, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return nil, Config{}, err
	}
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: baud,
		SCK:       pins.SCK,
		SDO:       pins.SDO,
		SDI:       pins.SDI,
		Mode:      0,
	})
	if err != nil {
		return nil, Config{}, err
	}
	cfg := Config{Logger: logger}
	if pins.Reset != machine.NoPin {
		pins.Reset.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pins.Reset.High()
		cfg.ResetPin = pins.Reset.Set
	}
	if pins.IRQ != machine.NoPin {
		pins.IRQ.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		cfg.Notifier = picoIRQ{pin: pins.IRQ}
	}
	return New(&picoBus{cs: pins.CS, spi: spi}), cfg, nil
}

type picoBus struct {
	cs  machine.Pin
	spi *piolib.SPI
}

func (b *picoBus) Tx(w, r []byte) error {
	b.cs.Low()
	err := b.spi.Tx(w, r)
	b.cs.High()
	return err
}

type picoIRQ struct {
	pin machine.Pin
}

func (p picoIRQ) Arm(fn func()) error {
	return p.pin.SetInterrupt(machine.PinFalling, func(machine.Pin) { fn() })
}

func (p picoIRQ) Disarm() {
	p.pin.SetInterrupt(0, nil)
}
