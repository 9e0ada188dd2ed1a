package memory

import (
	"encoding/json"
	"time"

	"entityfiler/pkg/domain"
)

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneAddressPtr(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneBusiness(b Business) Business {
	cloned := b
	cloned.StateFilingID = cloneInt64Ptr(b.StateFilingID)
	cloned.DissolutionDate = cloneTimePtr(b.DissolutionDate)
	cloned.RestorationExpiryDate = cloneTimePtr(b.RestorationExpiryDate)
	cloned.LastARDate = cloneTimePtr(b.LastARDate)
	cloned.LastAGMDate = cloneTimePtr(b.LastAGMDate)
	cloned.LastCOADate = cloneTimePtr(b.LastCOADate)
	cloned.LastCODDate = cloneTimePtr(b.LastCODDate)
	if b.ContinuationOut != nil {
		j := *b.ContinuationOut
		cloned.ContinuationOut = &j
	}
	if b.Offices != nil {
		cloned.Offices = append([]domain.Office(nil), b.Offices...)
	}
	if b.PartyRoles != nil {
		cloned.PartyRoles = make([]domain.PartyRole, len(b.PartyRoles))
		for i, r := range b.PartyRoles {
			r.CessationDate = cloneTimePtr(r.CessationDate)
			r.Party.DeliveryAddress = cloneAddressPtr(r.Party.DeliveryAddress)
			r.Party.MailingAddress = cloneAddressPtr(r.Party.MailingAddress)
			cloned.PartyRoles[i] = r
		}
	}
	if b.ShareClasses != nil {
		cloned.ShareClasses = make([]domain.ShareClass, len(b.ShareClasses))
		for i, c := range b.ShareClasses {
			c.MaxNumberOfShares = cloneInt64Ptr(c.MaxNumberOfShares)
			if c.ParValue != nil {
				pv := *c.ParValue
				c.ParValue = &pv
			}
			if c.Series != nil {
				series := make([]domain.ShareSeries, len(c.Series))
				for j, s := range c.Series {
					s.MaxNumberOfShares = cloneInt64Ptr(s.MaxNumberOfShares)
					series[j] = s
				}
				c.Series = series
			}
			cloned.ShareClasses[i] = c
		}
	}
	if b.Aliases != nil {
		cloned.Aliases = append([]domain.Alias(nil), b.Aliases...)
	}
	if b.Documents != nil {
		cloned.Documents = append([]domain.Document(nil), b.Documents...)
	}
	if b.Resolutions != nil {
		cloned.Resolutions = append([]domain.Resolution(nil), b.Resolutions...)
	}
	return cloned
}

func cloneFiling(f Filing) Filing {
	cloned := f
	cloned.BusinessID = cloneInt64Ptr(f.BusinessID)
	cloned.CompletionDate = cloneTimePtr(f.CompletionDate)
	cloned.ParentFilingID = cloneInt64Ptr(f.ParentFilingID)
	cloned.CorrectionFilingID = cloneInt64Ptr(f.CorrectionFilingID)
	cloned.JSON = cloneRaw(f.JSON)
	cloned.Meta = cloneRaw(f.Meta)
	if f.CourtOrder != nil {
		co := *f.CourtOrder
		co.OrderDate = cloneTimePtr(f.CourtOrder.OrderDate)
		cloned.CourtOrder = &co
	}
	return cloned
}
