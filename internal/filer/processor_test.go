package filer_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"entityfiler/internal/filer"
	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/pkg/domain"
)

var completedAt = time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	calls []filer.FilingType
}

func (r *recorder) record(t filer.FilingType) {
	r.mu.Lock()
	r.calls = append(r.calls, t)
	r.mu.Unlock()
}

func (r *recorder) seen() []filer.FilingType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]filer.FilingType(nil), r.calls...)
}

type harness struct {
	store *memory.Store
	reg   *filer.Registry
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.NewStore(filer.NewDefaultRulesEngine()), reg: filer.NewRegistry(), rec: &recorder{}}
	h.register(t, filer.TypeIncorporationApplication, func(_ context.Context, in filer.Input) (filer.Output, error) {
		in.Meta.Set("incorporationApplication", map[string]any{"identifier": "BC0000009"})
		return filer.Output{
			Business: &domain.Business{
				Identifier: "BC0000009",
				LegalName:  "Fresh Co Ltd.",
				LegalType:  domain.LegalTypeBC,
				State:      domain.StateActive,
			},
			Filing: in.Filing,
		}, nil
	})
	h.register(t, filer.TypeAnnualReport, func(_ context.Context, in filer.Input) (filer.Output, error) {
		b := *in.Business
		b.LastARYear = 2024
		in.Meta.Set("annualReport", map[string]any{"annualReportDate": "2024-04-30"})
		return filer.Output{Business: &b, Filing: in.Filing}, nil
	})
	h.register(t, filer.TypeChangeOfName, func(_ context.Context, in filer.Input) (filer.Output, error) {
		b := *in.Business
		in.Meta.Set(filer.MetaChangeOfName, map[string]any{"fromLegalName": b.LegalName, "toLegalName": "Renamed Ltd."})
		b.LegalName = "Renamed Ltd."
		return filer.Output{Business: &b, Filing: in.Filing}, nil
	})
	h.register(t, filer.TypeDissolution, func(context.Context, filer.Input) (filer.Output, error) {
		return filer.Output{}, errors.New("dissolution rejected")
	})
	return h
}

func (h *harness) register(t *testing.T, ft filer.FilingType, fn filer.TransitionFunc) {
	t.Helper()
	wrapped := filer.TransitionFunc(func(ctx context.Context, in filer.Input) (filer.Output, error) {
		h.rec.record(ft)
		return fn(ctx, in)
	})
	if err := h.reg.Register(ft, wrapped); err != nil {
		t.Fatalf("register %s: %v", ft, err)
	}
}

func (h *harness) seedBusiness(t *testing.T) domain.Business {
	t.Helper()
	var b domain.Business
	if _, err := h.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		b, err = tx.CreateBusiness(domain.Business{
			Identifier: "BC0000001",
			LegalName:  "Old Co Ltd.",
			LegalType:  domain.LegalTypeBC,
			State:      domain.StateActive,
		})
		return err
	}); err != nil {
		t.Fatalf("seed business: %v", err)
	}
	return b
}

func (h *harness) seedFiling(t *testing.T, businessID *int64, body string) domain.Filing {
	t.Helper()
	f, err := h.store.SaveFiling(context.Background(), domain.Filing{
		BusinessID:    businessID,
		FilingType:    "test",
		EffectiveDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		JSON:          json.RawMessage(`{"filing":{"header":{"name":"test"},` + body + `}}`),
	})
	if err != nil {
		t.Fatalf("seed filing: %v", err)
	}
	return f
}

func (h *harness) processor(cascade *filer.Cascade, opts ...filer.Option) *filer.Processor {
	opts = append([]filer.Option{filer.WithClock(filer.ClockFunc(func() time.Time { return completedAt }))}, opts...)
	return filer.NewProcessor(h.store, h.reg, cascade, opts...)
}

func TestProcessFilingAppliesTransitionsInPriorityOrder(t *testing.T) {
	h := newHarness(t)
	f := h.seedFiling(t, nil, `"annualReport":{},"incorporationApplication":{}`)
	before := h.store.LastTransactionID()

	out, err := h.processor(nil).ProcessFiling(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	want := []filer.FilingType{filer.TypeIncorporationApplication, filer.TypeAnnualReport}
	if got := h.rec.seen(); !reflect.DeepEqual(got, want) {
		t.Fatalf("transition order = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(out.Applied, want) || out.Skipped {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.TransactionID != before+1 {
		t.Fatalf("expected one unit of work, transaction %d after %d", out.TransactionID, before)
	}
	if out.Business.Identifier != "BC0000009" || out.Business.LastARYear != 2024 {
		t.Fatalf("unexpected business %+v", out.Business)
	}

	got, _ := h.store.FindFiling(f.ID)
	if got.Status != domain.FilingCompleted || got.BusinessID == nil || *got.BusinessID != out.Business.ID {
		t.Fatalf("filing not completed against the new business: %+v", got)
	}
	if got.CompletionDate == nil || !got.CompletionDate.Equal(completedAt) || got.ProcessedLegalType != domain.LegalTypeBC {
		t.Fatalf("unexpected completion fields %+v", got)
	}
	var meta filer.FilingMeta
	if err := json.Unmarshal(got.Meta, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if !reflect.DeepEqual(meta.LegalFilings, []string{"annualReport", "incorporationApplication"}) {
		t.Fatalf("legal filings must keep document order, got %v", meta.LegalFilings)
	}
	if _, ok := meta.Section("incorporationApplication"); !ok {
		t.Fatalf("missing incorporation section in %s", got.Meta)
	}
	if _, ok := meta.Section("annualReport"); !ok {
		t.Fatalf("missing annual report section in %s", got.Meta)
	}
}

func TestProcessFilingRollsBackEveryChangeOnFailure(t *testing.T) {
	h := newHarness(t)
	b := h.seedBusiness(t)
	f := h.seedFiling(t, &b.ID, `"dissolution":{},"changeOfName":{}`)
	before := h.store.LastTransactionID()

	_, err := h.processor(nil).ProcessFiling(context.Background(), f.ID)
	var terr *filer.TransitionError
	if !errors.As(err, &terr) || terr.FilingType != filer.TypeDissolution {
		t.Fatalf("expected dissolution transition error, got %v", err)
	}
	if got := h.rec.seen(); !reflect.DeepEqual(got, []filer.FilingType{filer.TypeChangeOfName, filer.TypeDissolution}) {
		t.Fatalf("unexpected transitions %v", got)
	}
	business, _ := h.store.FindBusiness(b.ID)
	if business.LegalName != "Old Co Ltd." {
		t.Fatalf("name change must roll back, got %q", business.LegalName)
	}
	filing, _ := h.store.FindFiling(f.ID)
	if filing.Status != domain.FilingPending || len(filing.Meta) != 0 {
		t.Fatalf("filing must stay untouched, got %+v", filing)
	}
	if h.store.LastTransactionID() != before {
		t.Fatalf("failed run must not commit a transaction")
	}
}

func TestProcessFilingSkipsCompletedAndUnregistered(t *testing.T) {
	h := newHarness(t)
	b := h.seedBusiness(t)
	p := h.processor(nil)

	done := h.seedFiling(t, &b.ID, `"annualReport":{}`)
	if _, err := p.ProcessFiling(context.Background(), done.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := p.ProcessFiling(context.Background(), done.ID)
	if err != nil || !out.Skipped {
		t.Fatalf("expected completed filing to be skipped, got %+v %v", out, err)
	}
	if n := len(h.rec.seen()); n != 1 {
		t.Fatalf("completed filing reprocessed: %d transitions", n)
	}

	unknown := h.seedFiling(t, &b.ID, `"amalgamationApplication":{}`)
	out, err = p.ProcessFiling(context.Background(), unknown.ID)
	if err != nil || !out.Skipped {
		t.Fatalf("expected unregistered filing to be skipped, got %+v %v", out, err)
	}
	if got, _ := h.store.FindFiling(unknown.ID); got.Status != domain.FilingPending {
		t.Fatalf("skipped filing must stay pending, got %s", got.Status)
	}
}

func TestProcessFilingErrorClasses(t *testing.T) {
	h := newHarness(t)
	p := h.processor(nil)
	ctx := context.Background()

	_, err := p.ProcessFiling(ctx, 404)
	var perr *filer.ProcessingError
	if !errors.As(err, &perr) || !errors.Is(err, filer.ErrFilingNotFound) {
		t.Fatalf("expected processing error for unknown filing, got %v", err)
	}

	orphan := h.seedFiling(t, nil, `"annualReport":{}`)
	_, err = p.ProcessFiling(ctx, orphan.ID)
	if !errors.Is(err, filer.ErrBusinessRequired) {
		t.Fatalf("expected business required, got %v", err)
	}

	b := h.seedBusiness(t)
	f := h.seedFiling(t, &b.ID, `"annualReport":{}`)
	h.store.OnCommit(func(context.Context, memory.Commit) error {
		return &domain.PersistenceError{Op: "write commit", Err: errors.New("connection reset")}
	})
	_, err = p.ProcessFiling(ctx, f.ID)
	var serr *filer.StoreError
	if !errors.As(err, &serr) || serr.FilingID != f.ID {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestProcessFilingRunsValidatorFirst(t *testing.T) {
	h := newHarness(t)
	b := h.seedBusiness(t)
	f := h.seedFiling(t, &b.ID, `"annualReport":{}`)
	validator := filer.ValidatorFunc(func(_ context.Context, business *domain.Business, env filer.Envelope) []filer.ValidationError {
		if business == nil || business.ID != b.ID || !env.Has(filer.TypeAnnualReport) {
			t.Errorf("validator saw wrong input: %+v", business)
		}
		return []filer.ValidationError{{Path: "/filing/annualReport/annualReportDate", Message: "required"}}
	})
	_, err := h.processor(nil, filer.WithValidator(validator)).ProcessFiling(context.Background(), f.ID)
	var verr *filer.ValidationFailedError
	if !errors.As(err, &verr) || len(verr.Errors) != 1 {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if len(h.rec.seen()) != 0 {
		t.Fatalf("no transition may run after a validation failure")
	}
}

type recordingEffect struct {
	mu       sync.Mutex
	outcomes []filer.Outcome
}

func (*recordingEffect) Name() string               { return "record" }
func (*recordingEffect) Applies(filer.Outcome) bool { return true }
func (e *recordingEffect) Run(_ context.Context, o filer.Outcome) error {
	time.Sleep(10 * time.Millisecond)
	e.mu.Lock()
	e.outcomes = append(e.outcomes, o)
	e.mu.Unlock()
	return nil
}

func (e *recordingEffect) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outcomes)
}

func TestProcessRunsCascadeAfterCommit(t *testing.T) {
	h := newHarness(t)
	b := h.seedBusiness(t)
	f := h.seedFiling(t, &b.ID, `"changeOfName":{}`)
	effect := &recordingEffect{}
	p := h.processor(filer.NewCascade([]filer.SideEffect{effect}, time.Second))

	if err := p.Process(context.Background(), filer.Message{Value: filer.EncodeMessage(f.ID)}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if effect.count() != 1 {
		t.Fatalf("Process must wait for the cascade, saw %d runs", effect.count())
	}
	o := effect.outcomes[0]
	if o.Business.LegalName != "Renamed Ltd." || o.Filing.Status != domain.FilingCompleted {
		t.Fatalf("effect must see committed state, got %+v", o)
	}
	if !o.Has(filer.TypeChangeOfName) || o.Has(filer.TypeDissolution) {
		t.Fatalf("unexpected applied types %v", o.Applied)
	}

	if err := p.Process(context.Background(), filer.Message{Value: filer.EncodeMessage(f.ID)}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if effect.count() != 1 {
		t.Fatalf("a completed filing must not trigger the cascade again")
	}

	err := p.Process(context.Background(), filer.Message{Value: []byte("garbage")})
	var perr *filer.ProcessingError
	if !errors.As(err, &perr) || !errors.Is(err, filer.ErrInvalidMessage) {
		t.Fatalf("expected processing error for garbage, got %v", err)
	}
}

func TestProcessFilingRetriesIdentifierCollision(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateBusiness(domain.Business{Identifier: "BC0000009", LegalName: "Taken Ltd.", LegalType: domain.LegalTypeBC, State: domain.StateActive})
		return err
	}); err != nil {
		t.Fatalf("seed business: %v", err)
	}
	f := h.seedFiling(t, nil, `"incorporationApplication":{}`)

	_, err := h.processor(nil).ProcessFiling(context.Background(), f.ID)
	var serr *filer.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("identifier collision must be redelivered, got %v", err)
	}
	var conflict domain.IdentifierConflictError
	if !errors.As(err, &conflict) || conflict.Identifier != "BC0000009" {
		t.Fatalf("expected conflict on BC0000009, got %v", err)
	}
	if got, _ := h.store.FindFiling(f.ID); got.Status != domain.FilingPending {
		t.Fatalf("filing must stay pending, got %s", got.Status)
	}
}

func TestProcessFilingDefaultsFilingType(t *testing.T) {
	h := newHarness(t)
	b := h.seedBusiness(t)
	p := h.processor(nil)
	cases := []struct {
		name string
		json string
		want string
	}{
		{"from header", `{"filing":{"header":{"name":"annualReport"},"annualReport":{}}}`, "annualReport"},
		{"from first legal filing", `{"filing":{"header":{},"changeOfName":{},"annualReport":{}}}`, "changeOfName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := h.store.SaveFiling(context.Background(), domain.Filing{BusinessID: &b.ID, JSON: json.RawMessage(tc.json)})
			if err != nil {
				t.Fatalf("save filing: %v", err)
			}
			out, err := p.ProcessFiling(context.Background(), f.ID)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if out.Filing.FilingType != tc.want {
				t.Fatalf("expected filing type %q, got %q", tc.want, out.Filing.FilingType)
			}
		})
	}
}
