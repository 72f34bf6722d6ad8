package controller

import (
	"bytes"
	"sort"
	"time"
)

// FlowEntry is a cached forwarding decision.
type FlowEntry struct {
	Switch      uint64
	Match       FlowMatch
	OutPort     uint32
	IdleTimeout time.Duration // 0 = never idles out
	HardTimeout time.Duration // 0 = no hard limit
	Installed   time.Time
	LastUsed    time.Time
}

// EvictReason says which timer removed an entry.
type EvictReason string

const (
	EvictIdle EvictReason = "idle"
	EvictHard EvictReason = "hard"
)

// Eviction is an entry removed by Tick.
type Eviction struct {
	Entry  FlowEntry
	Reason EvictReason
}

func (e FlowEntry) expired(now time.Time) (EvictReason, bool) {
	if e.HardTimeout > 0 && now.Sub(e.Installed) >= e.HardTimeout {
		return EvictHard, true
	}
	if e.IdleTimeout > 0 && now.Sub(e.LastUsed) >= e.IdleTimeout {
		return EvictIdle, true
	}
	return "", false
}

type flowKey struct {
	inPort uint32
	src    macKey // zero unless the table matches on source
	dst    macKey
}

// FlowTable holds one switch's flow entries. Like MacTable it belongs to a
// single owner and is not safe for concurrent use.
type FlowTable struct {
	entries map[flowKey]*FlowEntry
	exact   bool
}

// NewFlowTable returns an empty table keyed by (ingress port, destination
// MAC). This is the controller's view: one forwarding decision per
// destination and ingress port.
func NewFlowTable() *FlowTable {
	return &FlowTable{entries: make(map[flowKey]*FlowEntry)}
}

// NewExactFlowTable returns an empty table keyed by the full match, source
// MAC included, the way a switch applies FlowMods.
func NewExactFlowTable() *FlowTable {
	return &FlowTable{entries: make(map[flowKey]*FlowEntry), exact: true}
}

func (t *FlowTable) key(m FlowMatch) (flowKey, bool) {
	dst, ok := keyOf(m.Dst)
	if !ok {
		return flowKey{}, false
	}
	k := flowKey{inPort: m.InPort, dst: dst}
	if t.exact {
		src, ok := keyOf(m.Src)
		if !ok {
			return flowKey{}, false
		}
		k.src = src
	}
	return k, true
}

// Install inserts e, replacing any entry with the same key, and starts both
// timers at now.
func (t *FlowTable) Install(e FlowEntry, now time.Time) bool {
	k, ok := t.key(e.Match)
	if !ok {
		return false
	}
	e.Installed = now
	e.LastUsed = now
	t.entries[k] = &e
	return true
}

// Lookup returns the entry for m if it exists and has not expired.
func (t *FlowTable) Lookup(m FlowMatch, now time.Time) (FlowEntry, bool) {
	e := t.get(m)
	if e == nil {
		return FlowEntry{}, false
	}
	if _, gone := e.expired(now); gone {
		return FlowEntry{}, false
	}
	return *e, true
}

// Match is Lookup for traffic that hits the entry: it also restarts the idle
// timer.
func (t *FlowTable) Match(m FlowMatch, now time.Time) (FlowEntry, bool) {
	e := t.get(m)
	if e == nil {
		return FlowEntry{}, false
	}
	if _, gone := e.expired(now); gone {
		return FlowEntry{}, false
	}
	e.LastUsed = now
	return *e, true
}

// Touch moves the entry's last use forward to at, if that is later than
// what the table has. It reports whether an entry was found.
func (t *FlowTable) Touch(m FlowMatch, at time.Time) bool {
	e := t.get(m)
	if e == nil {
		return false
	}
	if at.After(e.LastUsed) {
		e.LastUsed = at
	}
	return true
}

func (t *FlowTable) get(m FlowMatch) *FlowEntry {
	k, ok := t.key(m)
	if !ok {
		return nil
	}
	return t.entries[k]
}

// Remove deletes the entry for m. On a destination-keyed table an entry
// installed for a different source than m.Src is left alone: it replaced the
// one being removed.
func (t *FlowTable) Remove(m FlowMatch) bool {
	k, ok := t.key(m)
	if !ok {
		return false
	}
	e, ok := t.entries[k]
	if !ok {
		return false
	}
	if !t.exact && len(m.Src) > 0 && !bytes.Equal(e.Match.Src, m.Src) {
		return false
	}
	delete(t.entries, k)
	return true
}

// RemovePort deletes entries that match on or output to port.
func (t *FlowTable) RemovePort(port uint32) []FlowEntry {
	var out []FlowEntry
	for k, e := range t.entries {
		if e.Match.InPort == port || e.OutPort == port {
			out = append(out, *e)
			delete(t.entries, k)
		}
	}
	sortEntries(out)
	return out
}

// Tick evicts entries whose idle or hard timeout has elapsed at now.
func (t *FlowTable) Tick(now time.Time) []Eviction {
	var out []Eviction
	for k, e := range t.entries {
		if reason, gone := e.expired(now); gone {
			out = append(out, Eviction{Entry: *e, Reason: reason})
			delete(t.entries, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return entryLess(out[i].Entry, out[j].Entry) })
	return out
}

// Clear drops all entries.
func (t *FlowTable) Clear() {
	t.entries = make(map[flowKey]*FlowEntry)
}

// Len returns the number of entries, expired or not.
func (t *FlowTable) Len() int { return len(t.entries) }

// Entries returns a sorted copy of the table.
func (t *FlowTable) Entries() []FlowEntry {
	out := make([]FlowEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

func sortEntries(es []FlowEntry) {
	sort.Slice(es, func(i, j int) bool { return entryLess(es[i], es[j]) })
}

func entryLess(a, b FlowEntry) bool {
	if a.Match.InPort != b.Match.InPort {
		return a.Match.InPort < b.Match.InPort
	}
	if d := bytes.Compare(a.Match.Dst, b.Match.Dst); d != 0 {
		return d < 0
	}
	return bytes.Compare(a.Match.Src, b.Match.Src) < 0
}
