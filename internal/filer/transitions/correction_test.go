package transitions_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"entityfiler/internal/filer"
	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/pkg/domain"
)

func TestCorrectionLinksFilings(t *testing.T) {
	f := newFixture(t)
	b := f.company()
	parent, _ := f.mustProcess(f.file(&b.ID, `"changeOfAddress":{"offices":{"registeredOffice":{"deliveryAddress":{"streetAddress":"9 Wrong St","addressCity":"Victoria","addressCountry":"CA"}}}}`))

	child := f.file(&b.ID, fmt.Sprintf(`"correction":{
  "correctedFilingId":%d,
  "comment":"wrong street",
  "offices":{"registeredOffice":{"deliveryAddress":{"streetAddress":"9 Right St","addressCity":"Victoria","addressCountry":"CA"}}}
}`, parent.Filing.ID))
	out, meta := f.mustProcess(child)

	registered, _ := out.Business.Office(domain.OfficeRegistered)
	if registered.DeliveryAddress.StreetAddress != "9 Right St" {
		t.Fatalf("correction not applied: %+v", registered)
	}
	if out.Filing.ParentFilingID == nil || *out.Filing.ParentFilingID != parent.Filing.ID {
		t.Fatalf("child must point at parent, got %v", out.Filing.ParentFilingID)
	}
	corrected, _ := f.store.FindFiling(parent.Filing.ID)
	if corrected.CorrectionFilingID == nil || *corrected.CorrectionFilingID != child.ID {
		t.Fatalf("parent must point at child, got %v", corrected.CorrectionFilingID)
	}
	if corrected.TransactionID != out.TransactionID {
		t.Fatalf("both links must be written in one transaction: %d vs %d", corrected.TransactionID, out.TransactionID)
	}
	section := f.section(meta, "correction")
	if section["correctedFilingType"] != "test" || section["comment"] != "wrong street" {
		t.Fatalf("unexpected meta %v", section)
	}
}

func TestCorrectionRejectsSelfAndForeignFilings(t *testing.T) {
	f := newFixture(t)
	b := f.company()
	other := f.seed(domain.Business{Identifier: "BC0000002", LegalName: "Other Ltd.", LegalType: domain.LegalTypeBC, State: domain.StateActive})
	foreign, _ := f.mustProcess(f.file(&other.ID, `"annualReport":{}`))

	self := f.file(&b.ID, `"correction":{"correctedFilingId":0}`)
	if _, err := f.process(self); err == nil || !strings.Contains(err.Error(), "corrected filing id required") {
		t.Fatalf("expected missing id error, got %v", err)
	}
	self = f.file(&b.ID, `"placeholder":{}`)
	self = f.rewrite(self, fmt.Sprintf(`"correction":{"correctedFilingId":%d}`, self.ID))
	if _, err := f.process(self); err == nil || !strings.Contains(err.Error(), "cannot correct itself") {
		t.Fatalf("expected self-correction error, got %v", err)
	}
	cross := f.file(&b.ID, fmt.Sprintf(`"correction":{"correctedFilingId":%d}`, foreign.Filing.ID))
	if _, err := f.process(cross); err == nil || !strings.Contains(err.Error(), "does not belong") {
		t.Fatalf("expected foreign filing error, got %v", err)
	}
	missing := f.file(&b.ID, `"correction":{"correctedFilingId":999}`)
	var nf domain.ErrNotFound
	if _, err := f.process(missing); !errors.As(err, &nf) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if parent, _ := f.store.FindFiling(foreign.Filing.ID); parent.CorrectionFilingID != nil {
		t.Fatalf("rejected corrections must not link filings")
	}
}

func TestFailedCorrectionRollsBackBundledAlteration(t *testing.T) {
	const alteration = `"alteration":{"business":{"legalType":"BEN"},"nameRequest":{"legalType":"BEN"}}`
	cases := []struct {
		name       string
		correction string
		prepare    func(f *fixture)
		check      func(t *testing.T, err error)
	}{
		{
			name:       "correction rejected",
			correction: `"comment":"bad date","startDate":"not-a-date"`,
			check: func(t *testing.T, err error) {
				var terr *filer.TransitionError
				if !errors.As(err, &terr) || terr.FilingType != filer.TypeCorrection {
					t.Fatalf("expected correction transition error, got %v", err)
				}
			},
		},
		{
			name:       "commit fails after linking",
			correction: `"comment":"fine"`,
			prepare: func(f *fixture) {
				f.store.OnCommit(func(context.Context, memory.Commit) error {
					return &domain.PersistenceError{Op: "commit", Err: errors.New("connection reset")}
				})
			},
			check: func(t *testing.T, err error) {
				var serr *filer.StoreError
				if !errors.As(err, &serr) {
					t.Fatalf("expected store error, got %v", err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.company()
			parent, _ := f.mustProcess(f.file(&b.ID, `"annualReport":{"annualReportDate":"2024-04-30"}`))
			bundled := f.file(&b.ID, alteration+fmt.Sprintf(`,"correction":{"correctedFilingId":%d,%s}`, parent.Filing.ID, tc.correction))
			if tc.prepare != nil {
				tc.prepare(f)
			}
			before := f.store.LastTransactionID()

			_, err := f.process(bundled)
			tc.check(t, err)

			got, _ := f.store.FindBusiness(b.ID)
			if got.LegalType != domain.LegalTypeBC || got.LegalName != "Old Co Ltd." {
				t.Fatalf("alteration must roll back, got %s %q", got.LegalType, got.LegalName)
			}
			corrected, _ := f.store.FindFiling(parent.Filing.ID)
			if corrected.CorrectionFilingID != nil {
				t.Fatalf("corrected filing must not be linked, got %d", *corrected.CorrectionFilingID)
			}
			child, _ := f.store.FindFiling(bundled.ID)
			if child.Status != domain.FilingPending || child.ParentFilingID != nil {
				t.Fatalf("bundled filing must stay untouched, got %+v", child)
			}
			if f.store.LastTransactionID() != before {
				t.Fatalf("failed run must not commit: %d -> %d", before, f.store.LastTransactionID())
			}
		})
	}
}
