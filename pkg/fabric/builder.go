package fabric

import (
	"errors"
	"fmt"
	"time"

	"github.com/glennswest/fattree/pkg/fabric/addr"
)

const (
	// DefaultMaxK bounds k by the port count of commodity switches.
	DefaultMaxK = 64

	DefaultBandwidth = 1000 // Mbps
	DefaultDelay     = time.Millisecond
)

// ErrInvariantViolation is returned when a built topology fails its own
// self-checks. It indicates a builder defect, never bad input.
var ErrInvariantViolation = errors.New("topology invariant violated")

// ConfigError reports an unusable k.
type ConfigError struct {
	K      int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid k=%d: %s", e.K, e.Reason)
}

// BuildOpts tunes link attributes and the accepted range of k.
type BuildOpts struct {
	MaxK      int           // default DefaultMaxK, never above addr.MaxK
	Bandwidth int           // Mbps per link, default DefaultBandwidth
	Delay     time.Duration // propagation delay per link, default DefaultDelay
}

func (o BuildOpts) withDefaults() BuildOpts {
	if o.MaxK <= 0 {
		o.MaxK = DefaultMaxK
	}
	if o.MaxK > addr.MaxK {
		o.MaxK = addr.MaxK
	}
	if o.Bandwidth <= 0 {
		o.Bandwidth = DefaultBandwidth
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	return o
}

// ValidateK checks k against the builder's preconditions.
func ValidateK(k int, opts BuildOpts) error {
	opts = opts.withDefaults()
	switch {
	case k <= 0:
		return &ConfigError{K: k, Reason: "must be positive"}
	case k%2 != 0:
		return &ConfigError{K: k, Reason: "must be even"}
	case k > opts.MaxK:
		return &ConfigError{K: k, Reason: fmt.Sprintf("exceeds switch port limit %d", opts.MaxK)}
	}
	return nil
}

// Build constructs the k-ary fat tree. Identical k and opts always produce an
// identical topology.
//
// Counts: k pods, each with k/2 edge and k/2 aggregation switches; (k/2)^2
// core switches in k/2 groups of k/2; k/2 hosts per edge switch.
//
// Wiring:
//   - edge switch e: ports 1..k/2 to its hosts, port k/2+1+j to aggregation j
//   - aggregation j: port 1+e to edge e, port k/2+1+g to core (g, j)
//   - core (g, m): port 1+p to aggregation m of pod p
func Build(k int, opts BuildOpts) (*Topology, error) {
	if err := ValidateK(k, opts); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	alloc, err := addr.NewAllocator(k)
	if err != nil {
		return nil, &ConfigError{K: k, Reason: err.Error()}
	}

	b := &builder{
		k:     k,
		half:  k / 2,
		alloc: alloc,
		opts:  opts,
		topo:  &Topology{K: k},
	}
	if err := b.build(); err != nil {
		return nil, err
	}

	b.topo.index()
	if err := Validate(b.topo); err != nil {
		return nil, err
	}
	return b.topo, nil
}

type builder struct {
	k     int
	half  int
	alloc *addr.Allocator
	opts  BuildOpts
	topo  *Topology
}

func (b *builder) build() error {
	core := make([]Switch, 0, b.half*b.half)
	for g := 0; g < b.half; g++ {
		for m := 0; m < b.half; m++ {
			sw, err := b.addSwitch(TierCore, 0, b.alloc.CorePosition(g, m), b.k)
			if err != nil {
				return err
			}
			core = append(core, sw)
		}
	}

	for pod := 0; pod < b.k; pod++ {
		aggs := make([]Switch, 0, b.half)
		for j := 0; j < b.half; j++ {
			sw, err := b.addSwitch(TierAggregation, pod, j, b.k)
			if err != nil {
				return err
			}
			aggs = append(aggs, sw)
		}

		for e := 0; e < b.half; e++ {
			edge, err := b.addSwitch(TierEdge, pod, e, b.k)
			if err != nil {
				return err
			}

			for h := 0; h < b.half; h++ {
				if err := b.addHost(edge, pod, e, h); err != nil {
					return err
				}
			}

			// Full mesh to the pod's aggregation layer.
			for j, agg := range aggs {
				b.link(
					Endpoint{Node: edge.Name, Port: uint32(b.half + 1 + j)},
					Endpoint{Node: agg.Name, Port: uint32(1 + e)},
				)
			}
		}

		// Aggregation j reaches member j of every core group.
		for j, agg := range aggs {
			for g := 0; g < b.half; g++ {
				c := core[b.alloc.CorePosition(g, j)]
				b.link(
					Endpoint{Node: agg.Name, Port: uint32(b.half + 1 + g)},
					Endpoint{Node: c.Name, Port: uint32(1 + pod)},
				)
			}
		}
	}
	return nil
}

func (b *builder) addSwitch(tier Tier, pod, position, ports int) (Switch, error) {
	id, err := b.alloc.Allocate(tier, pod, position)
	if err != nil {
		return Switch{}, fmt.Errorf("allocating %s switch: %w", tier, err)
	}
	sw := Switch{
		Name:       switchName(tier, pod, position),
		Tier:       tier,
		Pod:        pod,
		Position:   position,
		DatapathID: id.DatapathID,
		MAC:        id.MAC.String(),
		IP:         id.IP.String(),
		Ports:      ports,
	}
	b.topo.Switches = append(b.topo.Switches, sw)
	return sw, nil
}

func (b *builder) addHost(edge Switch, pod, e, h int) error {
	id, err := b.alloc.Allocate(TierHost, pod, b.alloc.HostPosition(e, h))
	if err != nil {
		return fmt.Errorf("allocating host: %w", err)
	}
	host := Host{
		Name:       hostName(pod, e, h),
		Pod:        pod,
		Edge:       e,
		Index:      h,
		MAC:        id.MAC.String(),
		IP:         id.IP.String(),
		EdgeSwitch: edge.DatapathID,
		EdgePort:   uint32(1 + h),
	}
	b.topo.Hosts = append(b.topo.Hosts, host)
	b.link(Endpoint{Node: host.Name, Port: HostPort}, Endpoint{Node: edge.Name, Port: host.EdgePort})
	return nil
}

func (b *builder) link(a, z Endpoint) {
	b.topo.Links = append(b.topo.Links, Link{
		A:         a,
		B:         z,
		Bandwidth: b.opts.Bandwidth,
		Delay:     b.opts.Delay,
	})
}
