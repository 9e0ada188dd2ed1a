package filer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Header is the envelope header written by the submitting API.
type Header struct {
	Name              string     `json:"name"`
	Date              string     `json:"date,omitempty"`
	EffectiveDate     *time.Time `json:"effectiveDate,omitempty"`
	CertifiedBy       string     `json:"certifiedBy,omitempty"`
	Email             string     `json:"email,omitempty"`
	FilingID          int64      `json:"filingId,omitempty"`
	IsFutureEffective bool       `json:"isFutureEffective,omitempty"`
}

// BusinessRef is the envelope's description of the business being filed on.
type BusinessRef struct {
	Identifier   string `json:"identifier,omitempty"`
	LegalType    string `json:"legalType,omitempty"`
	LegalName    string `json:"legalName,omitempty"`
	FoundingDate string `json:"foundingDate,omitempty"`
}

// Envelope is a decoded submission: a header, a business reference and one
// payload per legal filing key, in document order.
type Envelope struct {
	Header   Header
	Business BusinessRef
	keys     []string
	payloads map[string]json.RawMessage
}

// ParseEnvelope decodes {"filing": {...}}. The header and business keys are
// reserved; every other key of the filing object is a legal filing payload.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var outer struct {
		Filing json.RawMessage `json:"filing"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(outer.Filing) == 0 || bytes.Equal(outer.Filing, []byte("null")) {
		return Envelope{}, errors.New("decode envelope: missing filing object")
	}
	env := Envelope{payloads: make(map[string]json.RawMessage)}
	dec := json.NewDecoder(bytes.NewReader(outer.Filing))
	tok, err := dec.Token()
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Envelope{}, errors.New("decode envelope: filing must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope key %q: %w", key, err)
		}
		switch key {
		case "header":
			if err := json.Unmarshal(value, &env.Header); err != nil {
				return Envelope{}, fmt.Errorf("decode header: %w", err)
			}
		case "business":
			if err := json.Unmarshal(value, &env.Business); err != nil {
				return Envelope{}, fmt.Errorf("decode business: %w", err)
			}
		default:
			if _, dup := env.payloads[key]; !dup {
				env.keys = append(env.keys, key)
			}
			env.payloads[key] = value
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Keys returns every non-reserved key in document order.
func (e Envelope) Keys() []string {
	return append([]string(nil), e.keys...)
}

// LegalFilings returns the keys that name a known filing type, in document order.
func (e Envelope) LegalFilings() []string {
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		if _, known := priorityIndex[FilingType(k)]; known {
			out = append(out, k)
		}
	}
	return out
}

// Has reports whether the envelope carries a payload for t.
func (e Envelope) Has(t FilingType) bool {
	_, ok := e.payloads[string(t)]
	return ok
}

// Payload returns the raw payload for t.
func (e Envelope) Payload(t FilingType) (json.RawMessage, bool) {
	p, ok := e.payloads[string(t)]
	return p, ok
}
