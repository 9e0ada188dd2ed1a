package filer

import (
	"context"
	"fmt"
	"sync"

	"entityfiler/pkg/domain"
)

// FilingType is a legal filing key as it appears in the envelope.
type FilingType string

// Known filing types.
const (
	TypeIncorporationApplication FilingType = "incorporationApplication"
	TypeRegistration             FilingType = "registration"
	TypeConversion               FilingType = "conversion"
	TypeRestoration              FilingType = "restoration"
	TypePutBackOn                FilingType = "putBackOn"
	TypeAlteration               FilingType = "alteration"
	TypeSpecialResolution        FilingType = "specialResolution"
	TypeChangeOfRegistration     FilingType = "changeOfRegistration"
	TypeChangeOfName             FilingType = "changeOfName"
	TypeChangeOfAddress          FilingType = "changeOfAddress"
	TypeChangeOfDirectors        FilingType = "changeOfDirectors"
	TypeAnnualReport             FilingType = "annualReport"
	TypeTransition               FilingType = "transition"
	TypeCourtOrder               FilingType = "courtOrder"
	TypeRegistrarsNotation       FilingType = "registrarsNotation"
	TypeRegistrarsOrder          FilingType = "registrarsOrder"
	TypeAdminFreeze              FilingType = "adminFreeze"
	TypeConsentContinuationOut   FilingType = "consentContinuationOut"
	TypeContinuationOut          FilingType = "continuationOut"
	TypeDissolution              FilingType = "dissolution"
	TypeCorrection               FilingType = "correction"
)

// priorityOrder is the order transitions run in, regardless of the order of
// keys in the envelope. Entity-creating types come first so every later
// transition sees a business; correction comes last so it observes every
// other change in the same envelope.
var priorityOrder = []FilingType{
	TypeIncorporationApplication, TypeRegistration, TypeConversion,
	TypeRestoration, TypePutBackOn,
	TypeAlteration, TypeSpecialResolution, TypeChangeOfRegistration, TypeChangeOfName,
	TypeChangeOfAddress, TypeChangeOfDirectors, TypeAnnualReport, TypeTransition,
	TypeCourtOrder, TypeRegistrarsNotation, TypeRegistrarsOrder, TypeAdminFreeze,
	TypeConsentContinuationOut, TypeContinuationOut, TypeDissolution,
	TypeCorrection,
}

var priorityIndex = func() map[FilingType]int {
	idx := make(map[FilingType]int, len(priorityOrder))
	for i, t := range priorityOrder {
		idx[t] = i
	}
	return idx
}()

// PriorityOrder returns a copy of the fixed transition order.
func PriorityOrder() []FilingType {
	return append([]FilingType(nil), priorityOrder...)
}

// CreatesBusiness reports whether the type may run without an existing business.
func (t FilingType) CreatesBusiness() bool {
	switch t {
	case TypeIncorporationApplication, TypeRegistration, TypeConversion:
		return true
	}
	return false
}

// Input is what a transition sees. Business is nil only before an
// entity-creating transition has run. Meta is shared by every transition of
// the run.
type Input struct {
	Business *domain.Business
	Filing   domain.Filing
	Envelope Envelope
	Payload  []byte
	Meta     *FilingMeta
	Tx       domain.Transaction
}

// Output carries the business and filing a transition produced. A nil
// Business keeps the input business.
type Output struct {
	Business *domain.Business
	Filing   domain.Filing
}

// Transition applies one filing type to the business aggregate. It must not
// commit; the processor owns the unit of work.
type Transition interface {
	Apply(ctx context.Context, in Input) (Output, error)
}

// TransitionFunc adapts a function into a Transition.
type TransitionFunc func(ctx context.Context, in Input) (Output, error)

// Apply implements Transition.
func (f TransitionFunc) Apply(ctx context.Context, in Input) (Output, error) { return f(ctx, in) }

// Registry maps filing types to transitions. It is populated at startup and
// read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	transitions map[FilingType]Transition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transitions: make(map[FilingType]Transition)}
}

// Register binds a transition to a known filing type.
func (r *Registry) Register(t FilingType, transition Transition) error {
	if transition == nil {
		return fmt.Errorf("transition for %s cannot be nil", t)
	}
	if _, known := priorityIndex[t]; !known {
		return fmt.Errorf("filing type %q has no priority slot", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transitions[t]; exists {
		return fmt.Errorf("transition for %s already registered", t)
	}
	r.transitions[t] = transition
	return nil
}

// Lookup returns the transition for t.
func (r *Registry) Lookup(t FilingType) (Transition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.transitions[t]
	return tr, ok
}

// Registered lists the bound filing types in priority order.
func (r *Registry) Registered() []FilingType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FilingType, 0, len(r.transitions))
	for _, t := range priorityOrder {
		if _, ok := r.transitions[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Plan returns the registered types among keys, in priority order. Unknown
// and unregistered keys are dropped.
func (r *Registry) Plan(keys []string) []FilingType {
	present := make(map[FilingType]struct{}, len(keys))
	for _, k := range keys {
		present[FilingType(k)] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FilingType, 0, len(present))
	for _, t := range priorityOrder {
		if _, ok := present[t]; !ok {
			continue
		}
		if _, ok := r.transitions[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
