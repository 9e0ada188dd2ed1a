// Package effects holds the post-commit side effects run by the cascade.
package effects

import (
	"context"
	"encoding/json"
	"errors"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

// EntityUpdate is the business record pushed to the account service.
type EntityUpdate struct {
	Identifier   string
	Name         string
	CorpTypeCode string
	// State is empty when the filing does not change the business state.
	State string
}

// Affiliation links a newly created business to the account that
// bootstrapped it under a temporary identifier.
type Affiliation struct {
	Identifier     string
	TempIdentifier string
	Name           string
	CorpTypeCode   string
}

// AccountService is the external account/affiliation capability.
type AccountService interface {
	UpdateEntity(ctx context.Context, update EntityUpdate) error
	Affiliate(ctx context.Context, a Affiliation) error
}

var correctionAccountTypes = map[string]struct{}{
	domain.LegalTypeSoleProp: {}, domain.LegalTypePartnership: {}, domain.LegalTypeBC: {},
	domain.LegalTypeBenefit: {}, domain.LegalTypeCCC: {}, domain.LegalTypeULC: {}, domain.LegalTypeCoop: {},
}

// AccountUpdate keeps the account service's copy of the business in step
// with state, name and type changes.
type AccountUpdate struct {
	Accounts AccountService
}

// Name implements filer.SideEffect.
func (AccountUpdate) Name() string { return "account_update" }

// Applies implements filer.SideEffect.
func (AccountUpdate) Applies(o filer.Outcome) bool {
	_, ok := accountState(o)
	return ok
}

// accountState returns the state to push and whether an update is due.
func accountState(o filer.Outcome) (string, bool) {
	switch {
	case o.Has(filer.TypeDissolution), o.Has(filer.TypeContinuationOut):
		return string(domain.StateHistorical), true
	case o.Has(filer.TypePutBackOn), o.Has(filer.TypeRestoration):
		return string(domain.StateActive), true
	case o.Has(filer.TypeAlteration), o.Has(filer.TypeChangeOfRegistration):
		return "", true
	case o.Has(filer.TypeCorrection):
		_, ok := correctionAccountTypes[o.Business.LegalType]
		return "", ok
	}
	return "", false
}

// Run implements filer.SideEffect.
func (e AccountUpdate) Run(ctx context.Context, o filer.Outcome) error {
	state, _ := accountState(o)
	return e.Accounts.UpdateEntity(ctx, EntityUpdate{
		Identifier:   o.Business.Identifier,
		Name:         o.Business.LegalName,
		CorpTypeCode: o.Business.LegalType,
		State:        state,
	})
}

// AffiliationUpdate moves the temporary registration's affiliation onto the
// business an incorporation or registration created.
type AffiliationUpdate struct {
	Accounts AccountService
}

// Name implements filer.SideEffect.
func (AffiliationUpdate) Name() string { return "affiliation" }

// Applies implements filer.SideEffect.
func (AffiliationUpdate) Applies(o filer.Outcome) bool {
	return o.Filing.TempIdentifier != "" &&
		(o.Has(filer.TypeIncorporationApplication) || o.Has(filer.TypeRegistration))
}

// Run implements filer.SideEffect.
func (e AffiliationUpdate) Run(ctx context.Context, o filer.Outcome) error {
	return e.Accounts.Affiliate(ctx, Affiliation{
		Identifier:     o.Business.Identifier,
		TempIdentifier: o.Filing.TempIdentifier,
		Name:           o.Business.LegalName,
		CorpTypeCode:   o.Business.LegalType,
	})
}

// NameConsumer marks a name request as used.
type NameConsumer interface {
	Consume(ctx context.Context, nrNumber string) error
}

// NameRequestConsumption consumes the name request a filing was made under.
type NameRequestConsumption struct {
	Names NameConsumer
}

var nameRequestTypes = []filer.FilingType{
	filer.TypeIncorporationApplication, filer.TypeRegistration, filer.TypeChangeOfName,
}

// Name implements filer.SideEffect.
func (NameRequestConsumption) Name() string { return "name_request" }

// Applies implements filer.SideEffect.
func (NameRequestConsumption) Applies(o filer.Outcome) bool {
	return len(nrNumbers(o)) > 0
}

// Run implements filer.SideEffect.
func (e NameRequestConsumption) Run(ctx context.Context, o filer.Outcome) error {
	var errs []error
	for _, nr := range nrNumbers(o) {
		if err := e.Names.Consume(ctx, nr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nrNumbers(o filer.Outcome) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range nameRequestTypes {
		if !o.Has(t) {
			continue
		}
		raw, ok := o.Envelope.Payload(t)
		if !ok {
			continue
		}
		var p struct {
			NameRequest struct {
				NRNumber string `json:"nrNumber"`
			} `json:"nameRequest"`
		}
		if json.Unmarshal(raw, &p) != nil || p.NameRequest.NRNumber == "" {
			continue
		}
		if _, dup := seen[p.NameRequest.NRNumber]; dup {
			continue
		}
		seen[p.NameRequest.NRNumber] = struct{}{}
		out = append(out, p.NameRequest.NRNumber)
	}
	return out
}
