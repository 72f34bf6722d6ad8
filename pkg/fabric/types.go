package fabric

import (
	"fmt"
	"net"
	"time"

	"github.com/glennswest/fattree/pkg/fabric/addr"
)

// Tier re-exports the address plan's tier so callers need only this package.
type Tier = addr.Tier

const (
	TierCore        = addr.TierCore
	TierAggregation = addr.TierAggregation
	TierEdge        = addr.TierEdge
	TierHost        = addr.TierHost
)

// HostPort is the single interface every host has.
const HostPort uint32 = 0

// Switch is a forwarding element. Pod is 0 for core switches; for core
// switches Position is group*k/2 + member.
type Switch struct {
	Name       string `json:"name" yaml:"name"` // e.g. "e0_1", "a2_0", "c3"
	Tier       Tier   `json:"tier" yaml:"tier"`
	Pod        int    `json:"pod" yaml:"pod"`
	Position   int    `json:"position" yaml:"position"`
	DatapathID uint64 `json:"dpid" yaml:"dpid"`
	MAC        string `json:"mac" yaml:"mac"`
	IP         string `json:"ip" yaml:"ip"`
	Ports      int    `json:"ports" yaml:"ports"` // numbered 1..Ports
}

// Host is an end station attached to one edge switch port.
type Host struct {
	Name       string `json:"name" yaml:"name"` // e.g. "h0_1_0"
	Pod        int    `json:"pod" yaml:"pod"`
	Edge       int    `json:"edge" yaml:"edge"`
	Index      int    `json:"index" yaml:"index"`
	MAC        string `json:"mac" yaml:"mac"`
	IP         string `json:"ip" yaml:"ip"`
	EdgeSwitch uint64 `json:"edgeSwitch" yaml:"edgeSwitch"` // datapath id
	EdgePort   uint32 `json:"edgePort" yaml:"edgePort"`
}

// HardwareAddr parses the host MAC.
func (h Host) HardwareAddr() net.HardwareAddr {
	mac, _ := net.ParseMAC(h.MAC)
	return mac
}

// Endpoint is one side of a link. Node is a switch or host name.
type Endpoint struct {
	Node string `json:"node" yaml:"node"`
	Port uint32 `json:"port" yaml:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Node, e.Port)
}

// Link joins two endpoints. A is always the lower-tier side (host before edge,
// edge before aggregation, aggregation before core).
type Link struct {
	A         Endpoint      `json:"a" yaml:"a"`
	B         Endpoint      `json:"b" yaml:"b"`
	Bandwidth int           `json:"bandwidthMbps" yaml:"bandwidthMbps"`
	Delay     time.Duration `json:"delay" yaml:"delay"`
}

// Topology is a complete fat tree. It is built once and never mutated.
type Topology struct {
	K        int      `json:"k" yaml:"k"`
	Switches []Switch `json:"switches" yaml:"switches"`
	Hosts    []Host   `json:"hosts" yaml:"hosts"`
	Links    []Link   `json:"links" yaml:"links"`

	byName map[string]int // switch name -> index in Switches
	byDPID map[uint64]int
	hosts  map[string]int
	peers  map[Endpoint]Endpoint
}

func (t *Topology) index() {
	t.byName = make(map[string]int, len(t.Switches))
	t.byDPID = make(map[uint64]int, len(t.Switches))
	t.hosts = make(map[string]int, len(t.Hosts))
	t.peers = make(map[Endpoint]Endpoint, 2*len(t.Links))
	for i, sw := range t.Switches {
		t.byName[sw.Name] = i
		t.byDPID[sw.DatapathID] = i
	}
	for i, h := range t.Hosts {
		t.hosts[h.Name] = i
	}
	for _, l := range t.Links {
		t.peers[l.A] = l.B
		t.peers[l.B] = l.A
	}
}

// Switch returns a switch by datapath id.
func (t *Topology) Switch(dpid uint64) (Switch, bool) {
	i, ok := t.byDPID[dpid]
	if !ok {
		return Switch{}, false
	}
	return t.Switches[i], true
}

// SwitchByName returns a switch by name.
func (t *Topology) SwitchByName(name string) (Switch, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Switch{}, false
	}
	return t.Switches[i], true
}

// Host returns a host by name.
func (t *Topology) Host(name string) (Host, bool) {
	i, ok := t.hosts[name]
	if !ok {
		return Host{}, false
	}
	return t.Hosts[i], true
}

// SwitchesInTier returns the switches of one tier in build order.
func (t *Topology) SwitchesInTier(tier Tier) []Switch {
	var out []Switch
	for _, sw := range t.Switches {
		if sw.Tier == tier {
			out = append(out, sw)
		}
	}
	return out
}

// LinksOf returns every link with an endpoint on the named node.
func (t *Topology) LinksOf(node string) []Link {
	var out []Link
	for _, l := range t.Links {
		if l.A.Node == node || l.B.Node == node {
			out = append(out, l)
		}
	}
	return out
}

// Peer returns the endpoint on the far side of (node, port).
func (t *Topology) Peer(node string, port uint32) (Endpoint, bool) {
	peer, ok := t.peers[Endpoint{Node: node, Port: port}]
	return peer, ok
}

func switchName(tier Tier, pod, position int) string {
	switch tier {
	case TierCore:
		return fmt.Sprintf("c%d", position)
	case TierAggregation:
		return fmt.Sprintf("a%d_%d", pod, position)
	default:
		return fmt.Sprintf("e%d_%d", pod, position)
	}
}

func hostName(pod, edge, index int) string {
	return fmt.Sprintf("h%d_%d_%d", pod, edge, index)
}
