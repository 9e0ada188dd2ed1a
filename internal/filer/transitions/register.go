// Package transitions implements the business-state transition for every
// filing type and registers them with the dispatch loop.
package transitions

import (
	"context"
	"errors"

	"entityfiler/internal/blob/core"
	"entityfiler/internal/filer"
)

// IdentifierAllocator hands out new public business identifiers.
type IdentifierAllocator interface {
	Next(ctx context.Context, legalType string) (string, error)
}

// NameResolver resolves the approved name of a name request.
type NameResolver interface {
	ApprovedName(ctx context.Context, nrNumber string) (string, error)
}

// DocumentChecker confirms that an uploaded document exists.
type DocumentChecker interface {
	Head(ctx context.Context, key string) (core.Info, error)
}

// Deps are the collaborators transitions may call while the unit of work is open.
type Deps struct {
	Identifiers IdentifierAllocator
	Names       NameResolver
	Documents   DocumentChecker
}

var (
	errNoIdentifiers = errors.New("no identifier allocator configured")
	errNoNames       = errors.New("no name request resolver configured")
	errNoDocuments   = errors.New("no document store configured")
)

// Register binds every transition to reg.
func Register(reg *filer.Registry, deps Deps) error {
	all := map[filer.FilingType]filer.Transition{
		filer.TypeIncorporationApplication: incorporationApplication{deps: deps},
		filer.TypeRegistration:             registration{deps: deps},
		filer.TypeConversion:               conversion{deps: deps},
		filer.TypeRestoration:              filer.TransitionFunc(restoration),
		filer.TypePutBackOn:                filer.TransitionFunc(putBackOn),
		filer.TypeAlteration:               filer.TransitionFunc(alteration),
		filer.TypeSpecialResolution:        filer.TransitionFunc(specialResolution),
		filer.TypeChangeOfRegistration:     filer.TransitionFunc(changeOfRegistration),
		filer.TypeChangeOfName:             changeOfName{deps: deps},
		filer.TypeChangeOfAddress:          filer.TransitionFunc(changeOfAddress),
		filer.TypeChangeOfDirectors:        filer.TransitionFunc(changeOfDirectors),
		filer.TypeAnnualReport:             filer.TransitionFunc(annualReport),
		filer.TypeTransition:               filer.TransitionFunc(transition),
		filer.TypeCourtOrder:               filer.TransitionFunc(courtOrder),
		filer.TypeRegistrarsNotation:       orderTransition{section: string(filer.TypeRegistrarsNotation)},
		filer.TypeRegistrarsOrder:          orderTransition{section: string(filer.TypeRegistrarsOrder)},
		filer.TypeAdminFreeze:              filer.TransitionFunc(adminFreeze),
		filer.TypeConsentContinuationOut:   filer.TransitionFunc(consentContinuationOut),
		filer.TypeContinuationOut:          filer.TransitionFunc(continuationOut),
		filer.TypeDissolution:              filer.TransitionFunc(dissolution),
		filer.TypeCorrection:               filer.TransitionFunc(correction),
	}
	for _, t := range filer.PriorityOrder() {
		tr, ok := all[t]
		if !ok {
			continue
		}
		if err := reg.Register(t, tr); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with every transition registered.
func NewRegistry(deps Deps) (*filer.Registry, error) {
	reg := filer.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}
