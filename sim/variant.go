package sim

import "github.com/soypat/adin2111/regs"

// Variant selects the identity and port count of the simulated device.
// It is fixed when the Model is created.
type Variant interface {
	Name() string
	ChipID() uint16
	PHYID() uint32
	Capabilities() uint16
	// Ports returns the number of physical ports, 1 or 2.
	Ports() int
}

// ADIN2111 is the dual port switch.
type ADIN2111 struct{}

func (ADIN2111) Name() string   { return "ADIN2111" }
func (ADIN2111) ChipID() uint16 { return regs.ChipIDADIN2111 }
func (ADIN2111) PHYID() uint32  { return regs.PHYIDADIN2111 }
func (ADIN2111) Ports() int     { return 2 }
func (ADIN2111) Capabilities() uint16 {
	return regs.CAP_SWITCH | regs.CAP_2PORT | regs.CAP_MACFILT | regs.CAP_CUTTHRU
}

// ADIN1110 is the single port MAC-PHY. It has no switch and no second RX FIFO.
type ADIN1110 struct{}

func (ADIN1110) Name() string         { return "ADIN1110" }
func (ADIN1110) ChipID() uint16       { return regs.ChipIDADIN1110 }
func (ADIN1110) PHYID() uint32        { return regs.PHYIDADIN2111 }
func (ADIN1110) Ports() int           { return 1 }
func (ADIN1110) Capabilities() uint16 { return regs.CAP_MACFILT }

// Custom is a Variant with arbitrary identification, used to exercise
// identification failures.
type Custom struct {
	Label    string
	Chip     uint16
	PHY      uint32
	Caps     uint16
	NumPorts int
}

func (c Custom) Name() string         { return c.Label }
func (c Custom) ChipID() uint16       { return c.Chip }
func (c Custom) PHYID() uint32        { return c.PHY }
func (c Custom) Capabilities() uint16 { return c.Caps }
func (c Custom) Ports() int {
	if c.NumPorts == 1 {
		return 1
	}
	return 2
}
