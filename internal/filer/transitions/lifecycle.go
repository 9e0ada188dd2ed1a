package transitions

import (
	"context"
	"fmt"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

type dissolutionPayload struct {
	DissolutionDate string                   `json:"dissolutionDate"`
	DissolutionType string                   `json:"dissolutionType"`
	CustodialOffice map[string]officePayload `json:"custodialOffice"`
	Parties         []partyPayload           `json:"parties"`
	CourtOrder      *courtOrderPayload       `json:"courtOrder"`
}

func dissolution(_ context.Context, in filer.Input) (filer.Output, error) {
	var p dissolutionPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	dissolved, err := dateOr(p.DissolutionDate, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.State = domain.StateHistorical
	b.DissolutionDate = timePtr(dissolved)
	b.StateFilingID = int64Ptr(in.Filing.ID)
	for _, party := range p.Parties {
		for _, r := range party.Roles {
			if roleType(r.RoleType) != domain.RoleCustodian {
				continue
			}
			b.PartyRoles = append(b.PartyRoles, domain.PartyRole{
				Role:            domain.RoleCustodian,
				Party:           partyFrom(party),
				AppointmentDate: in.Filing.EffectiveDate,
			})
		}
	}
	f := in.Filing
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	dissolutionType := p.DissolutionType
	if dissolutionType == "" {
		dissolutionType = "voluntary"
	}
	in.Meta.Set(string(filer.TypeDissolution), map[string]any{
		"dissolutionDate": dateString(dissolved),
		"dissolutionType": dissolutionType,
	})
	return filer.Output{Business: b, Filing: f}, nil
}

type restorationPayload struct {
	Type        string                   `json:"type"`
	Expiry      string                   `json:"expiry"`
	NameRequest *nameRequestPayload      `json:"nameRequest"`
	Offices     map[string]officePayload `json:"offices"`
	Parties     []partyPayload           `json:"parties"`
	CourtOrder  *courtOrderPayload       `json:"courtOrder"`
}

func limitedRestoration(kind string) bool {
	return kind == "limitedRestoration" || kind == "limitedRestorationExtension"
}

func restoration(_ context.Context, in filer.Input) (filer.Output, error) {
	var p restorationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.Type == "" {
		return filer.Output{}, fmt.Errorf("restoration type required")
	}
	b := in.Business
	section := string(filer.TypeRestoration)
	meta := map[string]any{"type": p.Type}
	b.State = domain.StateActive
	b.DissolutionDate = nil
	b.StateFilingID = int64Ptr(in.Filing.ID)
	if limitedRestoration(p.Type) {
		if p.Expiry == "" {
			return filer.Output{}, fmt.Errorf("%s requires an expiry", p.Type)
		}
		expiry, err := parseDate(p.Expiry)
		if err != nil {
			return filer.Output{}, err
		}
		b.RestorationExpiryDate = timePtr(expiry)
		meta["expiry"] = dateString(expiry)
	} else {
		b.RestorationExpiryDate = nil
	}
	in.Meta.Set(section, meta)
	if p.NameRequest != nil {
		name := p.NameRequest.LegalName
		if name == "" && p.NameRequest.NRNumber == "" {
			name = numberedName(b.Identifier, b.LegalType)
		}
		rename(in.Meta, section, b, name)
	}
	applyOffices(b, p.Offices, domain.OfficeRegistered, domain.OfficeRecords)
	if len(p.Parties) > 0 {
		if err := replaceRoles(b, p.Parties, in.Filing.EffectiveDate); err != nil {
			return filer.Output{}, err
		}
	}
	f := in.Filing
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	return filer.Output{Business: b, Filing: f}, nil
}

type detailsPayload struct {
	Details string `json:"details"`
}

func putBackOn(_ context.Context, in filer.Input) (filer.Output, error) {
	var p detailsPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.State = domain.StateActive
	b.DissolutionDate = nil
	b.RestorationExpiryDate = nil
	b.StateFilingID = int64Ptr(in.Filing.ID)
	f := in.Filing
	f.OrderDetails = p.Details
	in.Meta.Set(string(filer.TypePutBackOn), map[string]any{"details": p.Details})
	return filer.Output{Business: b, Filing: f}, nil
}

type adminFreezePayload struct {
	Freeze  bool   `json:"freeze"`
	Details string `json:"details"`
}

func adminFreeze(_ context.Context, in filer.Input) (filer.Output, error) {
	var p adminFreezePayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.AdminFreeze = p.Freeze
	f := in.Filing
	if p.Details != "" {
		f.OrderDetails = p.Details
	}
	in.Meta.Set(string(filer.TypeAdminFreeze), map[string]any{"freeze": p.Freeze})
	return filer.Output{Business: b, Filing: f}, nil
}

type jurisdictionPayload struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

type continuationPayload struct {
	ForeignJurisdiction jurisdictionPayload `json:"foreignJurisdiction"`
	LegalName           string              `json:"legalName"`
	Identifier          string              `json:"identifier"`
	ContinuationOutDate string              `json:"continuationOutDate"`
	Details             string              `json:"details"`
	CourtOrder          *courtOrderPayload  `json:"courtOrder"`
}

// consentExpiryMonths bounds how long a consent to continue out stays valid.
const consentExpiryMonths = 6

func consentContinuationOut(_ context.Context, in filer.Input) (filer.Output, error) {
	var p continuationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.ForeignJurisdiction.Country == "" {
		return filer.Output{}, fmt.Errorf("foreign jurisdiction country required")
	}
	expiry := in.Filing.EffectiveDate.AddDate(0, consentExpiryMonths, 0)
	f := in.Filing
	f.OrderDetails = p.Details
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	in.Meta.Set(string(filer.TypeConsentContinuationOut), map[string]any{
		"country": p.ForeignJurisdiction.Country,
		"region":  p.ForeignJurisdiction.Region,
		"expiry":  expiry.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	return filer.Output{Business: in.Business, Filing: f}, nil
}

func continuationOut(_ context.Context, in filer.Input) (filer.Output, error) {
	var p continuationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.ForeignJurisdiction.Country == "" {
		return filer.Output{}, fmt.Errorf("foreign jurisdiction country required")
	}
	date, err := dateOr(p.ContinuationOutDate, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.State = domain.StateHistorical
	b.StateFilingID = int64Ptr(in.Filing.ID)
	b.ContinuationOut = &domain.Jurisdiction{
		Country:    p.ForeignJurisdiction.Country,
		Region:     p.ForeignJurisdiction.Region,
		LegalName:  p.LegalName,
		Identifier: p.Identifier,
		Date:       date,
	}
	f := in.Filing
	f.OrderDetails = p.Details
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	in.Meta.Set(string(filer.TypeContinuationOut), map[string]any{
		"country":             p.ForeignJurisdiction.Country,
		"region":              p.ForeignJurisdiction.Region,
		"legalName":           p.LegalName,
		"continuationOutDate": dateString(date),
	})
	return filer.Output{Business: b, Filing: f}, nil
}
