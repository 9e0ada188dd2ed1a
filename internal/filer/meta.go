package filer

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MetaChangeOfName is the section key used by the change of name transition.
const MetaChangeOfName = "change_of_name"

// FilingMeta accumulates what a processing run changed. Every transition of
// the run writes into the same value; it is serialized into Filing.Meta at
// commit and discarded afterwards.
//
// Wire shape: {"applicationDate": ..., "legalFilings": [...], "<section>": {...}}.
type FilingMeta struct {
	ApplicationDate time.Time
	LegalFilings    []string
	sections        map[string]map[string]any
}

// NewFilingMeta starts the accumulator for one run.
func NewFilingMeta(applicationDate time.Time, legalFilings []string) *FilingMeta {
	return &FilingMeta{
		ApplicationDate: applicationDate,
		LegalFilings:    append([]string(nil), legalFilings...),
		sections:        make(map[string]map[string]any),
	}
}

// Set replaces a section.
func (m *FilingMeta) Set(section string, values map[string]any) {
	if m.sections == nil {
		m.sections = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	m.sections[section] = cp
}

// Merge adds values to a section, creating it when absent.
func (m *FilingMeta) Merge(section string, values map[string]any) {
	if m.sections == nil {
		m.sections = make(map[string]map[string]any)
	}
	cur, ok := m.sections[section]
	if !ok {
		cur = make(map[string]any, len(values))
		m.sections[section] = cur
	}
	for k, v := range values {
		cur[k] = v
	}
}

// Section returns a copy of a section.
func (m *FilingMeta) Section(section string) (map[string]any, bool) {
	cur, ok := m.sections[section]
	if !ok {
		return nil, false
	}
	cp := make(map[string]any, len(cur))
	for k, v := range cur {
		cp[k] = v
	}
	return cp, true
}

// Sections lists the section keys in lexical order.
func (m *FilingMeta) Sections() []string {
	out := make([]string, 0, len(m.sections))
	for k := range m.sections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON flattens the sections next to the fixed keys.
func (m *FilingMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.sections)+2)
	for k, v := range m.sections {
		out[k] = v
	}
	out["applicationDate"] = m.ApplicationDate.UTC().Format(time.RFC3339)
	legal := m.LegalFilings
	if legal == nil {
		legal = []string{}
	}
	out["legalFilings"] = legal
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (m *FilingMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.sections = make(map[string]map[string]any)
	m.LegalFilings = nil
	m.ApplicationDate = time.Time{}
	for k, v := range raw {
		switch k {
		case "applicationDate":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("applicationDate: %w", err)
			}
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("applicationDate: %w", err)
			}
			m.ApplicationDate = t
		case "legalFilings":
			if err := json.Unmarshal(v, &m.LegalFilings); err != nil {
				return fmt.Errorf("legalFilings: %w", err)
			}
		default:
			var section map[string]any
			if err := json.Unmarshal(v, &section); err != nil {
				return fmt.Errorf("section %s: %w", k, err)
			}
			m.sections[k] = section
		}
	}
	return nil
}
