package transitions

import (
	"context"
	"fmt"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

type correctionPayload struct {
	CorrectedFilingID   int64                    `json:"correctedFilingId"`
	CorrectedFilingType string                   `json:"correctedFilingType"`
	CorrectedFilingDate string                   `json:"correctedFilingDate"`
	Comment             string                   `json:"comment"`
	NameRequest         *nameRequestPayload      `json:"nameRequest"`
	Business            businessPayload          `json:"business"`
	StartDate           string                   `json:"startDate"`
	Offices             map[string]officePayload `json:"offices"`
	Parties             []partyPayload           `json:"parties"`
	ShareStructure      *shareStructurePayload   `json:"shareStructure"`
	NameTranslations    *[]translationPayload    `json:"nameTranslations"`
}

// correction re-applies the corrected sections of an earlier filing to the
// business and links the two filings in both directions.
func correction(_ context.Context, in filer.Input) (filer.Output, error) {
	var p correctionPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.CorrectedFilingID == 0 {
		return filer.Output{}, fmt.Errorf("corrected filing id required")
	}
	if p.CorrectedFilingID == in.Filing.ID {
		return filer.Output{}, fmt.Errorf("filing %d cannot correct itself", in.Filing.ID)
	}
	parent, ok := in.Tx.FindFiling(p.CorrectedFilingID)
	if !ok {
		return filer.Output{}, domain.ErrNotFound{Entity: domain.EntityFiling, ID: p.CorrectedFilingID}
	}
	b := in.Business
	if parent.BusinessID == nil || *parent.BusinessID != b.ID {
		return filer.Output{}, fmt.Errorf("filing %d does not belong to %s", parent.ID, b.Identifier)
	}
	correctedType := p.CorrectedFilingType
	if correctedType == "" {
		correctedType = parent.FilingType
	}
	section := string(filer.TypeCorrection)
	in.Meta.Merge(section, map[string]any{
		"correctedFilingId":   parent.ID,
		"correctedFilingType": correctedType,
		"correctedFilingDate": dateString(parent.FilingDate),
		"comment":             p.Comment,
	})

	if p.NameRequest != nil {
		name := p.NameRequest.LegalName
		if name == "" && p.NameRequest.NRNumber == "" && !domain.IsFirm(b.LegalType) {
			name = numberedName(b.Identifier, b.LegalType)
		}
		rename(in.Meta, section, b, name)
	}
	if p.StartDate != "" {
		start, err := parseDate(p.StartDate)
		if err != nil {
			return filer.Output{}, err
		}
		b.FoundingDate = start
	}
	if p.Business.Naics.NaicsDescription != "" {
		b.NaicsDescription = p.Business.Naics.NaicsDescription
	}
	applyOffices(b, p.Offices, domain.OfficeRegistered, domain.OfficeRecords, domain.OfficeBusiness)
	if len(p.Parties) > 0 {
		if _, err := applyPartyActions(b, p.Parties, "", in.Filing.EffectiveDate); err != nil {
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

	childID := in.Filing.ID
	if _, err := in.Tx.UpdateFiling(parent.ID, func(f *domain.Filing) error {
		f.CorrectionFilingID = &childID
		return nil
	}); err != nil {
		return filer.Output{}, err
	}
	f := in.Filing
	f.ParentFilingID = int64Ptr(parent.ID)
	return filer.Output{Business: b, Filing: f}, nil
}
