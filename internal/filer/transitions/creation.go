package transitions

import (
	"context"
	"fmt"
	"strings"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

type cooperativePayload struct {
	RulesFileKey      string `json:"rulesFileKey"`
	MemorandumFileKey string `json:"memorandumFileKey"`
}

type incorporationPayload struct {
	NameRequest      *nameRequestPayload      `json:"nameRequest"`
	Offices          map[string]officePayload `json:"offices"`
	Parties          []partyPayload           `json:"parties"`
	ShareStructure   *shareStructurePayload   `json:"shareStructure"`
	NameTranslations []translationPayload     `json:"nameTranslations"`
	Cooperative      *cooperativePayload      `json:"cooperative"`
	CourtOrder       *courtOrderPayload       `json:"courtOrder"`
}

type incorporationApplication struct {
	deps Deps
}

func (t incorporationApplication) Apply(ctx context.Context, in filer.Input) (filer.Output, error) {
	if in.Business != nil {
		return filer.Output{}, fmt.Errorf("business %s already exists", in.Business.Identifier)
	}
	var p incorporationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	legalType := in.Envelope.Business.LegalType
	var nr nameRequestPayload
	if p.NameRequest != nil {
		nr = *p.NameRequest
		if nr.LegalType != "" {
			legalType = nr.LegalType
		}
	}
	if legalType == "" {
		return filer.Output{}, fmt.Errorf("legal type required")
	}
	if t.deps.Identifiers == nil {
		return filer.Output{}, errNoIdentifiers
	}
	identifier, err := t.deps.Identifiers.Next(ctx, legalType)
	if err != nil {
		return filer.Output{}, fmt.Errorf("allocate identifier: %w", err)
	}

	effective := in.Filing.EffectiveDate
	b := &domain.Business{
		Identifier:   identifier,
		LegalType:    legalType,
		State:        domain.StateActive,
		FoundingDate: effective,
	}
	if nr.NRNumber != "" && nr.LegalName != "" {
		b.LegalName = nr.LegalName
	} else {
		b.LegalName = numberedName(identifier, legalType)
	}

	offices := []domain.OfficeType{domain.OfficeRegistered, domain.OfficeRecords}
	if legalType == domain.LegalTypeCoop {
		offices = offices[:1]
	}
	applyOffices(b, p.Offices, offices...)
	roles, err := newRoles(p.Parties, effective)
	if err != nil {
		return filer.Output{}, err
	}
	b.PartyRoles = roles
	if p.ShareStructure != nil && legalType != domain.LegalTypeCoop {
		if err := applyShareStructure(b, *p.ShareStructure); err != nil {
			return filer.Output{}, err
		}
	}
	applyTranslations(b, p.NameTranslations)
	if legalType == domain.LegalTypeCoop {
		if err := t.attachCoopDocuments(ctx, b, p.Cooperative, in.Filing.ID); err != nil {
			return filer.Output{}, err
		}
	}

	f := in.Filing
	if f.TempIdentifier == "" && isTempIdentifier(in.Envelope.Business.Identifier) {
		f.TempIdentifier = in.Envelope.Business.Identifier
	}
	co, err := courtOrderFrom(p.CourtOrder)
	if err != nil {
		return filer.Output{}, err
	}
	if co != nil {
		f.CourtOrder = co
	}
	in.Meta.Set(string(filer.TypeIncorporationApplication), map[string]any{
		"legalName": b.LegalName,
		"legalType": legalType,
		"nrNumber":  nr.NRNumber,
	})
	return filer.Output{Business: b, Filing: f}, nil
}

func (t incorporationApplication) attachCoopDocuments(ctx context.Context, b *domain.Business, p *cooperativePayload, filingID int64) error {
	if p == nil {
		return fmt.Errorf("cooperative documents required")
	}
	if t.deps.Documents == nil {
		return errNoDocuments
	}
	for _, doc := range []struct{ kind, key string }{
		{domain.DocumentCoopRules, p.RulesFileKey},
		{domain.DocumentCoopMemorandum, p.MemorandumFileKey},
	} {
		if strings.TrimSpace(doc.key) == "" {
			return fmt.Errorf("%s file key required", doc.kind)
		}
		if _, err := t.deps.Documents.Head(ctx, doc.key); err != nil {
			return fmt.Errorf("verify %s %s: %w", doc.kind, doc.key, err)
		}
		b.Documents = append(b.Documents, domain.Document{Type: doc.kind, FileKey: doc.key, FilingID: filingID})
	}
	return nil
}

type registrationPayload struct {
	NameRequest *nameRequestPayload      `json:"nameRequest"`
	Business    businessPayload          `json:"business"`
	StartDate   string                   `json:"startDate"`
	Offices     map[string]officePayload `json:"offices"`
	Parties     []partyPayload           `json:"parties"`
	CourtOrder  *courtOrderPayload       `json:"courtOrder"`
}

type registration struct {
	deps Deps
}

func (t registration) Apply(ctx context.Context, in filer.Input) (filer.Output, error) {
	if in.Business != nil {
		return filer.Output{}, fmt.Errorf("business %s already exists", in.Business.Identifier)
	}
	var p registrationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	legalType := in.Envelope.Business.LegalType
	var nr nameRequestPayload
	if p.NameRequest != nil {
		nr = *p.NameRequest
		if nr.LegalType != "" {
			legalType = nr.LegalType
		}
	}
	if !domain.IsFirm(legalType) {
		return filer.Output{}, fmt.Errorf("registration requires a firm legal type, got %q", legalType)
	}
	if strings.TrimSpace(nr.LegalName) == "" {
		return filer.Output{}, fmt.Errorf("registration requires a name request legal name")
	}
	if t.deps.Identifiers == nil {
		return filer.Output{}, errNoIdentifiers
	}
	identifier, err := t.deps.Identifiers.Next(ctx, legalType)
	if err != nil {
		return filer.Output{}, fmt.Errorf("allocate identifier: %w", err)
	}
	founded, err := dateOr(p.StartDate, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b := &domain.Business{
		Identifier:       identifier,
		LegalName:        nr.LegalName,
		LegalType:        legalType,
		State:            domain.StateActive,
		FoundingDate:     founded,
		NaicsDescription: p.Business.Naics.NaicsDescription,
	}
	applyOffices(b, p.Offices, domain.OfficeBusiness)
	roles, err := newRoles(p.Parties, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b.PartyRoles = roles

	f := in.Filing
	if f.TempIdentifier == "" && isTempIdentifier(in.Envelope.Business.Identifier) {
		f.TempIdentifier = in.Envelope.Business.Identifier
	}
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	in.Meta.Set(string(filer.TypeRegistration), map[string]any{
		"legalName": b.LegalName,
		"legalType": legalType,
		"nrNumber":  nr.NRNumber,
		"startDate": dateString(founded),
	})
	return filer.Output{Business: b, Filing: f}, nil
}

type conversionPayload struct {
	NameRequest *nameRequestPayload      `json:"nameRequest"`
	Business    businessPayload          `json:"business"`
	StartDate   string                   `json:"startDate"`
	Offices     map[string]officePayload `json:"offices"`
	Parties     []partyPayload           `json:"parties"`
}

type conversion struct {
	deps Deps
}

// Apply creates the converted firm when the registry has no record of it and
// otherwise restates its name, office and parties.
func (t conversion) Apply(ctx context.Context, in filer.Input) (filer.Output, error) {
	var p conversionPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	var nr nameRequestPayload
	if p.NameRequest != nil {
		nr = *p.NameRequest
	}
	section := string(filer.TypeConversion)
	b := in.Business
	if b == nil {
		legalType := in.Envelope.Business.LegalType
		if nr.LegalType != "" {
			legalType = nr.LegalType
		}
		if legalType == "" {
			return filer.Output{}, fmt.Errorf("legal type required")
		}
		identifier := in.Envelope.Business.Identifier
		if identifier == "" || isTempIdentifier(identifier) {
			if t.deps.Identifiers == nil {
				return filer.Output{}, errNoIdentifiers
			}
			var err error
			if identifier, err = t.deps.Identifiers.Next(ctx, legalType); err != nil {
				return filer.Output{}, fmt.Errorf("allocate identifier: %w", err)
			}
		}
		founded, err := dateOr(p.StartDate, in.Filing.EffectiveDate)
		if err != nil {
			return filer.Output{}, err
		}
		name := nr.LegalName
		if name == "" {
			name = in.Envelope.Business.LegalName
		}
		if name == "" {
			return filer.Output{}, fmt.Errorf("legal name required")
		}
		b = &domain.Business{
			Identifier:   identifier,
			LegalName:    name,
			LegalType:    legalType,
			State:        domain.StateActive,
			FoundingDate: founded,
		}
	} else {
		rename(in.Meta, section, b, nr.LegalName)
	}
	if p.Business.Naics.NaicsDescription != "" {
		b.NaicsDescription = p.Business.Naics.NaicsDescription
	}
	applyOffices(b, p.Offices, domain.OfficeBusiness)
	if len(p.Parties) > 0 {
		if err := replaceRoles(b, p.Parties, in.Filing.EffectiveDate); err != nil {
			return filer.Output{}, err
		}
	}
	in.Meta.Merge(section, map[string]any{"legalName": b.LegalName, "legalType": b.LegalType})
	return filer.Output{Business: b, Filing: in.Filing}, nil
}
