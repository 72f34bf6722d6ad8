package addr

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Tier is the topological layer a node lives on.
type Tier uint8

const (
	TierCore        Tier = 1
	TierAggregation Tier = 2
	TierEdge        Tier = 3
	TierHost        Tier = 4
)

func (t Tier) String() string {
	switch t {
	case TierCore:
		return "core"
	case TierAggregation:
		return "aggregation"
	case TierEdge:
		return "edge"
	case TierHost:
		return "host"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) (Tier, error) {
	for _, t := range []Tier{TierCore, TierAggregation, TierEdge, TierHost} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText lets tiers appear by name in YAML and JSON descriptions.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MaxK is the largest k the addressing plan can encode: the pod index
// occupies one IPv4 octet and core switches use pod octet k.
const MaxK = 254

// Identity is the set of identifiers derived from a node's coordinates.
type Identity struct {
	DatapathID uint64
	MAC        net.HardwareAddr
	IP         net.IP
}

// RangeError reports coordinates outside what a tier holds for a given k.
type RangeError struct {
	Tier     Tier
	Pod      int
	Position int
	K        int
	Reason   string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("address range: %s pod=%d position=%d (k=%d): %s",
		e.Tier, e.Pod, e.Position, e.K, e.Reason)
}

// Allocator derives identities for a k-ary fat tree. It holds no mutable
// state: every identity is computed from (tier, pod, position) alone, so the
// same coordinates always produce the same identifiers.
//
// Layout:
//
//	datapath id  tier<<32 | pod<<16 | position
//	MAC          02:<tier>:<pod hi>:<pod lo>:<pos hi>:<pos lo>
//	IP (edge)    10.pod.position.1
//	IP (aggr)    10.pod.(k/2+position).1
//	IP (host)    10.pod.edge.(host+2), position = edge*k/2 + host
//	IP (core)    10.k.(group+1).(member+1), position = group*k/2 + member
type Allocator struct {
	k    int
	half int
}

// NewAllocator returns an Allocator for fat trees of parameter k.
func NewAllocator(k int) (*Allocator, error) {
	if k <= 0 || k%2 != 0 {
		return nil, fmt.Errorf("allocator: k must be a positive even integer, got %d", k)
	}
	if k > MaxK {
		return nil, fmt.Errorf("allocator: k=%d exceeds addressable maximum %d", k, MaxK)
	}
	return &Allocator{k: k, half: k / 2}, nil
}

// K returns the fat-tree parameter the allocator was built for.
func (a *Allocator) K() int { return a.k }

// Capacity returns how many positions a tier has per pod (or in total for core).
func (a *Allocator) Capacity(tier Tier) int {
	switch tier {
	case TierCore:
		return a.half * a.half
	case TierAggregation, TierEdge:
		return a.half
	case TierHost:
		return a.half * a.half
	}
	return 0
}

// Allocate returns the identity of the node at the given coordinates. Core
// switches ignore pod and must pass 0.
func (a *Allocator) Allocate(tier Tier, pod, position int) (Identity, error) {
	if err := a.check(tier, pod, position); err != nil {
		return Identity{}, err
	}

	var ip net.IP
	switch tier {
	case TierCore:
		ip = net.IPv4(10, byte(a.k), byte(position/a.half+1), byte(position%a.half+1))
	case TierAggregation:
		ip = net.IPv4(10, byte(pod), byte(a.half+position), 1)
	case TierEdge:
		ip = net.IPv4(10, byte(pod), byte(position), 1)
	case TierHost:
		ip = net.IPv4(10, byte(pod), byte(position/a.half), byte(position%a.half+2))
	}

	return Identity{
		DatapathID: DatapathID(tier, pod, position),
		MAC:        MAC(tier, pod, position),
		IP:         ip.To4(),
	}, nil
}

// HostPosition flattens (edge index, host index) into a host position.
func (a *Allocator) HostPosition(edge, host int) int {
	return edge*a.half + host
}

// CorePosition flattens (group, member) into a core position.
func (a *Allocator) CorePosition(group, member int) int {
	return group*a.half + member
}

func (a *Allocator) check(tier Tier, pod, position int) error {
	rangeErr := func(reason string) error {
		return &RangeError{Tier: tier, Pod: pod, Position: position, K: a.k, Reason: reason}
	}

	capacity := a.Capacity(tier)
	if capacity == 0 {
		return rangeErr("unknown tier")
	}
	if position < 0 || position >= capacity {
		return rangeErr(fmt.Sprintf("position outside [0,%d)", capacity))
	}
	if tier == TierCore {
		if pod != 0 {
			return rangeErr("core switches do not belong to a pod")
		}
		return nil
	}
	if pod < 0 || pod >= a.k {
		return rangeErr(fmt.Sprintf("pod outside [0,%d)", a.k))
	}
	return nil
}

// ─── Encoding ───────────────────────────────────────────────────────────────

// DatapathID packs coordinates into a 64-bit datapath id.
func DatapathID(tier Tier, pod, position int) uint64 {
	return uint64(tier)<<32 | uint64(uint16(pod))<<16 | uint64(uint16(position))
}

// SplitDatapathID is the inverse of DatapathID.
func SplitDatapathID(dpid uint64) (tier Tier, pod, position int) {
	return Tier(dpid >> 32), int(uint16(dpid >> 16)), int(uint16(dpid))
}

// MAC packs coordinates into a locally administered unicast MAC.
func MAC(tier Tier, pod, position int) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	mac[0] = 0x02
	mac[1] = byte(tier)
	binary.BigEndian.PutUint16(mac[2:4], uint16(pod))
	binary.BigEndian.PutUint16(mac[4:6], uint16(position))
	return mac
}

// FormatDatapathID renders a datapath id the way switches print it.
func FormatDatapathID(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}
