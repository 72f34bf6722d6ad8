package controller

import (
	"net"
	"sort"
	"time"
)

type macKey [6]byte

func keyOf(mac net.HardwareAddr) (macKey, bool) {
	var k macKey
	if len(mac) != 6 {
		return k, false
	}
	copy(k[:], mac)
	return k, true
}

func (k macKey) String() string {
	return net.HardwareAddr(k[:]).String()
}

// MacEntry is where a source address was last seen.
type MacEntry struct {
	MAC      string    `json:"mac"`
	Port     uint32    `json:"port"`
	LastSeen time.Time `json:"lastSeen"`
}

// MacTable maps learned addresses to the port they were seen on. Entries are
// refreshed on every observation and only dropped when the switch goes away
// or the port is deleted. It is owned by a single switch worker and is not
// safe for concurrent use.
type MacTable struct {
	entries map[macKey]MacEntry
}

// NewMacTable returns an empty table.
func NewMacTable() *MacTable {
	return &MacTable{entries: make(map[macKey]MacEntry)}
}

// Learn records (or refreshes) mac on port. Multicast and malformed sources
// are never learned; it reports whether the entry was new or moved.
func (t *MacTable) Learn(mac net.HardwareAddr, port uint32, now time.Time) bool {
	k, ok := keyOf(mac)
	if !ok || mac[0]&0x01 != 0 {
		return false
	}
	prev, existed := t.entries[k]
	t.entries[k] = MacEntry{MAC: k.String(), Port: port, LastSeen: now}
	return !existed || prev.Port != port
}

// Lookup returns the port mac was learned on.
func (t *MacTable) Lookup(mac net.HardwareAddr) (uint32, bool) {
	k, ok := keyOf(mac)
	if !ok {
		return 0, false
	}
	e, ok := t.entries[k]
	return e.Port, ok
}

// ForgetPort drops every entry learned on port and returns how many went.
func (t *MacTable) ForgetPort(port uint32) int {
	n := 0
	for k, e := range t.entries {
		if e.Port == port {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Clear drops all entries.
func (t *MacTable) Clear() {
	t.entries = make(map[macKey]MacEntry)
}

// Len returns the number of learned addresses.
func (t *MacTable) Len() int { return len(t.entries) }

// Entries returns a copy of the table sorted by address.
func (t *MacTable) Entries() []MacEntry {
	out := make([]MacEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}
