package transitions_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"entityfiler/internal/blob"
	"entityfiler/internal/filer"
	"entityfiler/internal/filer/transitions"
	"entityfiler/internal/infra/identifier"
	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/pkg/domain"
)

var effective = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fakeNames map[string]string

func (f fakeNames) ApprovedName(_ context.Context, nr string) (string, error) {
	name, ok := f[nr]
	if !ok {
		return "", errors.New("no approved name")
	}
	return name, nil
}

type fixture struct {
	t     *testing.T
	store *memory.Store
	docs  blob.Store
	ids   *identifier.MemoryAllocator
	proc  *filer.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := blob.Open(context.Background(), blob.Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("open documents: %v", err)
	}
	f := &fixture{
		t:     t,
		store: memory.NewStore(filer.NewDefaultRulesEngine()),
		docs:  docs,
		ids:   identifier.NewMemoryAllocator(),
	}
	reg, err := transitions.NewRegistry(transitions.Deps{
		Identifiers: f.ids,
		Names:       fakeNames{"NR1234567": "Resolved Ltd."},
		Documents:   f.docs,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if got := len(reg.Registered()); got != len(filer.PriorityOrder()) {
		t.Fatalf("expected every filing type registered, got %d", got)
	}
	f.proc = filer.NewProcessor(f.store, reg, nil)
	return f
}

var office = domain.Address{StreetAddress: "1 Main St", AddressCity: "Victoria", AddressCountry: "CA"}

// company seeds an active BC company with two offices and one director.
func (f *fixture) company() domain.Business {
	return f.seed(domain.Business{
		Identifier:   "BC0000001",
		LegalName:    "Old Co Ltd.",
		LegalType:    domain.LegalTypeBC,
		State:        domain.StateActive,
		FoundingDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Offices: []domain.Office{
			{Type: domain.OfficeRegistered, DeliveryAddress: office, MailingAddress: office},
			{Type: domain.OfficeRecords, DeliveryAddress: office, MailingAddress: office},
		},
		PartyRoles: []domain.PartyRole{{
			Role:            domain.RoleDirector,
			Party:           domain.Party{Type: "person", FirstName: "Jane", LastName: "Doe"},
			AppointmentDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	})
}

func (f *fixture) seed(b domain.Business) domain.Business {
	f.t.Helper()
	var created domain.Business
	if _, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateBusiness(b)
		return err
	}); err != nil {
		f.t.Fatalf("seed business: %v", err)
	}
	return created
}

// file stores a pending filing whose filing object holds body.
func (f *fixture) file(businessID *int64, body string) domain.Filing {
	f.t.Helper()
	filing, err := f.store.SaveFiling(context.Background(), domain.Filing{
		BusinessID:    businessID,
		FilingType:    "test",
		EffectiveDate: effective,
		FilingDate:    effective,
		JSON:          json.RawMessage(`{"filing":{"header":{"name":"test"},` + body + `}}`),
	})
	if err != nil {
		f.t.Fatalf("save filing: %v", err)
	}
	return filing
}

// rewrite replaces the filing object of a stored filing.
func (f *fixture) rewrite(filing domain.Filing, body string) domain.Filing {
	f.t.Helper()
	var updated domain.Filing
	if _, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateFiling(filing.ID, func(cur *domain.Filing) error {
			cur.JSON = json.RawMessage(`{"filing":{"header":{"name":"test"},` + body + `}}`)
			return nil
		})
		return err
	}); err != nil {
		f.t.Fatalf("rewrite filing: %v", err)
	}
	return updated
}

func (f *fixture) process(filing domain.Filing) (filer.Outcome, error) {
	return f.proc.ProcessFiling(context.Background(), filing.ID)
}

// mustProcess processes filing and returns the outcome with its decoded meta.
func (f *fixture) mustProcess(filing domain.Filing) (filer.Outcome, *filer.FilingMeta) {
	f.t.Helper()
	out, err := f.process(filing)
	if err != nil {
		f.t.Fatalf("process filing %d: %v", filing.ID, err)
	}
	if out.Skipped {
		f.t.Fatalf("filing %d unexpectedly skipped", filing.ID)
	}
	var meta filer.FilingMeta
	if err := json.Unmarshal(out.Filing.Meta, &meta); err != nil {
		f.t.Fatalf("decode meta: %v", err)
	}
	return out, &meta
}

func (f *fixture) section(meta *filer.FilingMeta, name string) map[string]any {
	f.t.Helper()
	s, ok := meta.Section(name)
	if !ok {
		f.t.Fatalf("missing meta section %q (have %v)", name, meta.Sections())
	}
	return s
}

func activeRoles(b domain.Business, role domain.RoleType) []string {
	var names []string
	for _, r := range b.ActiveRoles(role) {
		names = append(names, r.Party.Name())
	}
	return names
}
