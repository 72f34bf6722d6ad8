package fabric

import (
	"fmt"
)

// Validate runs the structural self-checks on a topology: element counts,
// single use of every port, non-blocking capacity at edge and aggregation
// switches, one core link per pod, and connectivity. Any failure wraps
// ErrInvariantViolation.
func Validate(t *Topology) error {
	if t.byName == nil {
		t.index()
	}
	k, half := t.K, t.K/2

	violation := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
	}

	counts := map[Tier]int{}
	for _, sw := range t.Switches {
		counts[sw.Tier]++
	}
	if got, want := counts[TierCore], half*half; got != want {
		return violation("%d core switches, want %d", got, want)
	}
	if got, want := counts[TierAggregation], k*half; got != want {
		return violation("%d aggregation switches, want %d", got, want)
	}
	if got, want := counts[TierEdge], k*half; got != want {
		return violation("%d edge switches, want %d", got, want)
	}
	if got, want := len(t.Hosts), k*k*k/4; got != want {
		return violation("%d hosts, want %d", got, want)
	}

	tierOf := make(map[string]Tier, len(t.Switches)+len(t.Hosts))
	for _, sw := range t.Switches {
		tierOf[sw.Name] = sw.Tier
	}
	for _, h := range t.Hosts {
		tierOf[h.Name] = TierHost
	}

	// capacity[node] = {down, up} in Mbps
	type capacity struct{ down, up, downLinks, upLinks int }
	caps := make(map[string]*capacity, len(tierOf))
	used := make(map[Endpoint]bool, 2*len(t.Links))
	corePods := make(map[string]map[int]bool)
	podOf := make(map[string]int, len(t.Switches))
	for _, sw := range t.Switches {
		podOf[sw.Name] = sw.Pod
	}

	for _, l := range t.Links {
		for _, ep := range []Endpoint{l.A, l.B} {
			if _, ok := tierOf[ep.Node]; !ok {
				return violation("link %s-%s references unknown node %s", l.A, l.B, ep.Node)
			}
			if used[ep] {
				return violation("port %s used by more than one link", ep)
			}
			used[ep] = true
			if caps[ep.Node] == nil {
				caps[ep.Node] = &capacity{}
			}
		}

		// A is the lower tier; higher Tier values sit lower in the tree.
		if tierOf[l.A.Node] <= tierOf[l.B.Node] {
			return violation("link %s-%s is not ordered lower-to-upper tier", l.A, l.B)
		}
		lower, upper := caps[l.A.Node], caps[l.B.Node]
		lower.up += l.Bandwidth
		lower.upLinks++
		upper.down += l.Bandwidth
		upper.downLinks++

		if tierOf[l.B.Node] == TierCore {
			pods := corePods[l.B.Node]
			if pods == nil {
				pods = make(map[int]bool)
				corePods[l.B.Node] = pods
			}
			pod := podOf[l.A.Node]
			if pods[pod] {
				return violation("core %s reaches pod %d twice", l.B.Node, pod)
			}
			pods[pod] = true
		}
	}

	for _, sw := range t.Switches {
		c := caps[sw.Name]
		if c == nil {
			return violation("switch %s has no links", sw.Name)
		}
		switch sw.Tier {
		case TierEdge, TierAggregation:
			if c.downLinks != half || c.upLinks != half {
				return violation("%s switch %s has %d down / %d up links, want %d / %d",
					sw.Tier, sw.Name, c.downLinks, c.upLinks, half, half)
			}
			if c.down != c.up {
				return violation("%s switch %s is blocking: %d Mbps down, %d Mbps up",
					sw.Tier, sw.Name, c.down, c.up)
			}
		case TierCore:
			if c.downLinks != k || len(corePods[sw.Name]) != k {
				return violation("core switch %s reaches %d pods over %d links, want %d",
					sw.Name, len(corePods[sw.Name]), c.downLinks, k)
			}
		}
	}

	for _, h := range t.Hosts {
		c := caps[h.Name]
		if c == nil || c.upLinks != 1 || c.downLinks != 0 {
			return violation("host %s must attach to exactly one edge port", h.Name)
		}
		peer, ok := t.Peer(h.Name, HostPort)
		edge, found := t.Switch(h.EdgeSwitch)
		if !ok || !found || peer.Node != edge.Name || peer.Port != h.EdgePort {
			return violation("host %s attachment does not match its link", h.Name)
		}
	}

	if n := len(Components(t)); n != 1 {
		return violation("topology has %d connected components", n)
	}
	return nil
}
