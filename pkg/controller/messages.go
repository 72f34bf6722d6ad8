package controller

import (
	"net"
	"time"
)

// NoBuffer marks a PacketIn/PacketOut that carries its frame inline.
const NoBuffer uint32 = 0xffffffff

// Message is a control-plane message exchanged between a switch and the
// controller. Every variant is addressed to one datapath.
type Message interface {
	DatapathID() uint64
}

// PacketIn reports a frame the switch had no flow entry for.
type PacketIn struct {
	Switch   uint64
	InPort   uint32
	Src      net.HardwareAddr
	Dst      net.HardwareAddr
	Payload  []byte
	BufferID uint32
}

// FlowMatch selects the traffic a flow entry applies to.
type FlowMatch struct {
	InPort uint32
	Src    net.HardwareAddr
	Dst    net.HardwareAddr
}

// FlowMod asks the switch to install a flow entry.
type FlowMod struct {
	Switch      uint64
	Match       FlowMatch
	OutPort     uint32
	IdleTimeout uint16 // seconds, 0 = none
	HardTimeout uint16 // seconds, 0 = none
}

// PacketOut asks the switch to emit a frame on one or more ports.
type PacketOut struct {
	Switch   uint64
	InPort   uint32
	OutPorts []uint32
	Payload  []byte
	BufferID uint32
}

// SwitchConnect announces a datapath and the ports it has.
type SwitchConnect struct {
	Switch uint64
	Ports  []uint32
}

// SwitchDisconnect reports a lost datapath connection.
type SwitchDisconnect struct {
	Switch uint64
}

// PortReason is why a PortStatus was sent.
type PortReason uint8

const (
	PortAdded PortReason = iota
	PortDeleted
	PortModified
)

func (r PortReason) String() string {
	switch r {
	case PortAdded:
		return "add"
	case PortDeleted:
		return "delete"
	case PortModified:
		return "modify"
	}
	return "unknown"
}

// PortStatus reports a port change on a switch.
type PortStatus struct {
	Switch uint64
	Port   uint32
	Reason PortReason
}

// FlowRemoved reports a flow entry the switch expired or deleted on its own.
type FlowRemoved struct {
	Switch uint64
	Match  FlowMatch
}

// FlowStat is the activity of one switch-side flow entry.
type FlowStat struct {
	Match   FlowMatch
	IdleFor time.Duration // time since the entry last matched a frame
}

// FlowStats is a switch's periodic report of its flow entries. Traffic that
// hits a flow never reaches the controller, so this is how the controller
// learns which entries are still in use.
type FlowStats struct {
	Switch uint64
	Flows  []FlowStat
}

func (m PacketIn) DatapathID() uint64         { return m.Switch }
func (m FlowMod) DatapathID() uint64          { return m.Switch }
func (m PacketOut) DatapathID() uint64        { return m.Switch }
func (m SwitchConnect) DatapathID() uint64    { return m.Switch }
func (m SwitchDisconnect) DatapathID() uint64 { return m.Switch }
func (m PortStatus) DatapathID() uint64       { return m.Switch }
func (m FlowRemoved) DatapathID() uint64      { return m.Switch }
func (m FlowStats) DatapathID() uint64        { return m.Switch }
