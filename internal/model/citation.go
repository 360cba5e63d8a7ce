package model

import (
	"encoding/json"
	"sort"
	"strconv"
)

// CitationMap maps a citation ordinal (as it appears in answer text, e.g. "[3]")
// to the source locator it resolves to. Within a session's first answer the
// mapping must be injective; once frozen, existing ordinals never change target
// in a later turn — only appends with the next free ordinal are allowed.
type CitationMap struct {
	entries map[int]Locator
	order   []int
}

// NewCitationMap returns an empty citation map.
func NewCitationMap() *CitationMap {
	return &CitationMap{entries: make(map[int]Locator)}
}

// Get returns the locator bound to ordinal n, if any.
func (m *CitationMap) Get(n int) (Locator, bool) {
	if m == nil {
		return Locator{}, false
	}
	l, ok := m.entries[n]
	return l, ok
}

// Set binds ordinal n to locator l. Set is idempotent for an unchanged binding.
func (m *CitationMap) Set(n int, l Locator) {
	if _, exists := m.entries[n]; !exists {
		m.order = append(m.order, n)
	}
	m.entries[n] = l
}

// NextFree returns the smallest ordinal not yet present, preserving density
// (ordinals are consecutive from 1) for fresh maps and append-only growth for
// frozen ones.
func (m *CitationMap) NextFree() int {
	n := 1
	for {
		if _, ok := m.entries[n]; !ok {
			return n
		}
		n++
	}
}

// Len returns the number of bound ordinals.
func (m *CitationMap) Len() int {
	return len(m.entries)
}

// Ordinals returns bound ordinals in ascending order.
func (m *CitationMap) Ordinals() []int {
	if m == nil {
		return nil
	}
	out := make([]int, 0, len(m.entries))
	for n := range m.entries {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Injective reports whether every bound ordinal maps to a distinct locator.
func (m *CitationMap) Injective() bool {
	seen := make(map[Locator]int, len(m.entries))
	for n, l := range m.entries {
		if other, ok := seen[l]; ok && other != n {
			return false
		}
		seen[l] = n
	}
	return true
}

// Clone returns a deep copy, used when a turn derives a working copy of the
// frozen session map before proposing rewrites.
func (m *CitationMap) Clone() *CitationMap {
	out := NewCitationMap()
	for _, n := range m.Ordinals() {
		out.Set(n, m.entries[n])
	}
	return out
}

// MarshalJSON renders the map as {"ordinal": locator} for session persistence.
func (m *CitationMap) MarshalJSON() ([]byte, error) {
	raw := make(map[string]Locator, len(m.entries))
	for n, l := range m.entries {
		raw[strconv.Itoa(n)] = l
	}
	return json.Marshal(raw)
}

// UnmarshalJSON restores a map persisted by MarshalJSON.
func (m *CitationMap) UnmarshalJSON(data []byte) error {
	var raw map[string]Locator
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.entries = make(map[int]Locator, len(raw))
	m.order = nil
	ords := make([]int, 0, len(raw))
	for k := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		ords = append(ords, n)
	}
	sort.Ints(ords)
	for _, n := range ords {
		m.Set(n, raw[strconv.Itoa(n)])
	}
	return nil
}

// StableAgainst reports whether every ordinal present in `frozen` still maps
// to the same locator in m, the cross-turn stability invariant.
func (m *CitationMap) StableAgainst(frozen *CitationMap) bool {
	if frozen == nil {
		return true
	}
	for _, n := range frozen.Ordinals() {
		want, _ := frozen.Get(n)
		got, ok := m.Get(n)
		if !ok || got != want {
			return false
		}
	}
	return true
}
