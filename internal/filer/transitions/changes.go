package transitions

import (
	"context"
	"fmt"
	"strings"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

type alterationPayload struct {
	Business          businessPayload        `json:"business"`
	NameRequest       *nameRequestPayload    `json:"nameRequest"`
	NameTranslations  *[]translationPayload  `json:"nameTranslations"`
	ShareStructure    *shareStructurePayload `json:"shareStructure"`
	ProvisionsRemoved *bool                  `json:"provisionsRemoved"`
	CourtOrder        *courtOrderPayload     `json:"courtOrder"`
}

func alteration(_ context.Context, in filer.Input) (filer.Output, error) {
	var p alterationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	section := string(filer.TypeAlteration)
	fromType := b.LegalType
	if p.Business.LegalType != "" && p.Business.LegalType != b.LegalType {
		b.LegalType = p.Business.LegalType
	}
	in.Meta.Merge(section, map[string]any{"fromLegalType": fromType, "toLegalType": b.LegalType})
	if p.NameRequest != nil {
		name := p.NameRequest.LegalName
		if name == "" && p.NameRequest.NRNumber == "" {
			name = numberedName(b.Identifier, b.LegalType)
		}
		rename(in.Meta, section, b, name)
	}
	if p.NameTranslations != nil {
		applyTranslations(b, *p.NameTranslations)
	}
	if p.ShareStructure != nil {
		if err := applyShareStructure(b, *p.ShareStructure); err != nil {
			return filer.Output{}, err
		}
	}
	if p.ProvisionsRemoved != nil {
		b.RestrictionInd = !*p.ProvisionsRemoved
	}
	f := in.Filing
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	return filer.Output{Business: b, Filing: f}, nil
}

type signatoryPayload struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

type specialResolutionPayload struct {
	Resolution     string           `json:"resolution"`
	ResolutionDate string           `json:"resolutionDate"`
	SigningDate    string           `json:"signingDate"`
	Signatory      signatoryPayload `json:"signatory"`
}

func specialResolution(_ context.Context, in filer.Input) (filer.Output, error) {
	var p specialResolutionPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	date, err := dateOr(p.ResolutionDate, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.Resolutions = append(b.Resolutions, domain.Resolution{
		Type:     "SPECIAL",
		Date:     date,
		Text:     p.Resolution,
		SignedBy: strings.TrimSpace(p.Signatory.GivenName + " " + p.Signatory.FamilyName),
	})
	in.Meta.Set(string(filer.TypeSpecialResolution), map[string]any{"resolutionDate": dateString(date)})
	return filer.Output{Business: b, Filing: in.Filing}, nil
}

type changeOfRegistrationPayload struct {
	NameRequest *nameRequestPayload      `json:"nameRequest"`
	Business    businessPayload          `json:"business"`
	Offices     map[string]officePayload `json:"offices"`
	Parties     []partyPayload           `json:"parties"`
	CourtOrder  *courtOrderPayload       `json:"courtOrder"`
}

func changeOfRegistration(_ context.Context, in filer.Input) (filer.Output, error) {
	var p changeOfRegistrationPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	section := string(filer.TypeChangeOfRegistration)
	if p.NameRequest != nil {
		rename(in.Meta, section, b, p.NameRequest.LegalName)
	}
	if p.Business.Naics.NaicsDescription != "" {
		b.NaicsDescription = p.Business.Naics.NaicsDescription
	}
	applyOffices(b, p.Offices, domain.OfficeBusiness)
	if _, err := applyPartyActions(b, p.Parties, "", in.Filing.EffectiveDate); err != nil {
		return filer.Output{}, err
	}
	f := in.Filing
	if co, err := courtOrderFrom(p.CourtOrder); err != nil {
		return filer.Output{}, err
	} else if co != nil {
		f.CourtOrder = co
	}
	return filer.Output{Business: b, Filing: f}, nil
}

type changeOfNamePayload struct {
	NameRequest *nameRequestPayload `json:"nameRequest"`
	LegalName   string              `json:"legalName"`
}

type changeOfName struct {
	deps Deps
}

// Apply takes the new name from the name request payload, then the plain
// legalName field, then the naming service.
func (t changeOfName) Apply(ctx context.Context, in filer.Input) (filer.Output, error) {
	var p changeOfNamePayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	var newName string
	switch {
	case p.NameRequest != nil && p.NameRequest.LegalName != "":
		newName = p.NameRequest.LegalName
	case p.LegalName != "":
		newName = p.LegalName
	case p.NameRequest != nil && p.NameRequest.NRNumber != "":
		if t.deps.Names == nil {
			return filer.Output{}, errNoNames
		}
		resolved, err := t.deps.Names.ApprovedName(ctx, p.NameRequest.NRNumber)
		if err != nil {
			return filer.Output{}, fmt.Errorf("resolve name request %s: %w", p.NameRequest.NRNumber, err)
		}
		newName = resolved
	}
	if strings.TrimSpace(newName) == "" {
		return filer.Output{}, fmt.Errorf("change of name carries no new name")
	}
	b := in.Business
	in.Meta.Set(filer.MetaChangeOfName, map[string]any{
		"fromLegalName": b.LegalName,
		"toLegalName":   newName,
	})
	b.LegalName = newName
	return filer.Output{Business: b, Filing: in.Filing}, nil
}

type changeOfAddressPayload struct {
	Offices map[string]officePayload `json:"offices"`
}

func changeOfAddress(_ context.Context, in filer.Input) (filer.Output, error) {
	var p changeOfAddressPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	touched := applyOffices(b, p.Offices, domain.OfficeRegistered, domain.OfficeRecords, domain.OfficeBusiness)
	if len(touched) == 0 {
		return filer.Output{}, fmt.Errorf("change of address names no office")
	}
	b.LastCOADate = timePtr(in.Filing.EffectiveDate)
	in.Meta.Set(string(filer.TypeChangeOfAddress), map[string]any{"offices": touched})
	return filer.Output{Business: b, Filing: in.Filing}, nil
}

type changeOfDirectorsPayload struct {
	Directors []partyPayload `json:"directors"`
}

func changeOfDirectors(_ context.Context, in filer.Input) (filer.Output, error) {
	var p changeOfDirectorsPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	changes, err := applyPartyActions(b, p.Directors, domain.RoleDirector, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b.LastCODDate = timePtr(in.Filing.EffectiveDate)
	in.Meta.Set(string(filer.TypeChangeOfDirectors), map[string]any{
		"appointed": nonNil(changes.Appointed),
		"ceased":    nonNil(changes.Ceased),
	})
	return filer.Output{Business: b, Filing: in.Filing}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type annualReportPayload struct {
	AnnualReportDate         string `json:"annualReportDate"`
	AnnualGeneralMeetingDate string `json:"annualGeneralMeetingDate"`
}

func annualReport(_ context.Context, in filer.Input) (filer.Output, error) {
	var p annualReportPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	arDate, err := dateOr(p.AnnualReportDate, in.Filing.EffectiveDate)
	if err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	b.LastARDate = timePtr(arDate)
	b.LastARYear = arDate.Year()
	section := map[string]any{"annualReportDate": dateString(arDate)}
	if p.AnnualGeneralMeetingDate != "" {
		agm, err := parseDate(p.AnnualGeneralMeetingDate)
		if err != nil {
			return filer.Output{}, err
		}
		b.LastAGMDate = timePtr(agm)
		section["annualGeneralMeetingDate"] = dateString(agm)
	}
	in.Meta.Set(string(filer.TypeAnnualReport), section)
	return filer.Output{Business: b, Filing: in.Filing}, nil
}

type transitionPayload struct {
	Offices          map[string]officePayload `json:"offices"`
	Parties          []partyPayload           `json:"parties"`
	ShareStructure   *shareStructurePayload   `json:"shareStructure"`
	NameTranslations *[]translationPayload    `json:"nameTranslations"`
	HasProvisions    bool                     `json:"hasProvisions"`
}

// transition restates a pre-existing company's records under the current act.
func transition(_ context.Context, in filer.Input) (filer.Output, error) {
	var p transitionPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	b := in.Business
	applyOffices(b, p.Offices, domain.OfficeRegistered, domain.OfficeRecords)
	if len(p.Parties) > 0 {
		if err := replaceRoles(b, p.Parties, in.Filing.EffectiveDate); err != nil {
			return filer.Output{}, err
		}
	}
	if p.ShareStructure != nil {
		if err := applyShareStructure(b, *p.ShareStructure); err != nil {
			return filer.Output{}, err
		}
	}
	if p.NameTranslations != nil {
		applyTranslations(b, *p.NameTranslations)
	}
	b.RestrictionInd = p.HasProvisions
	in.Meta.Set(string(filer.TypeTransition), map[string]any{"hasProvisions": p.HasProvisions})
	return filer.Output{Business: b, Filing: in.Filing}, nil
}
