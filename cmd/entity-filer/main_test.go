package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"entityfiler/internal/blob/core"
	"entityfiler/internal/config"
	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Blob.Driver = "memory"
	cfg.Retry.Backoff = time.Millisecond
	cfg.Queue.DeadLetterTopic = "filer.dlq"
	return cfg
}

func TestRunCheckValidatesConfig(t *testing.T) {
	t.Setenv("FILER_STORE_DRIVER", "memory")
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-check"}, &out, &errOut); code != 0 {
		t.Fatalf("expected exit 0, got %d (%s)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "configuration ok") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("FILER_STORE_DRIVER", "oracle")
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-check"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), `unknown driver "oracle"`) {
		t.Fatalf("expected driver error, got %q", errOut.String())
	}
}

func TestBuildProcessesFilingEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := build(ctx, memoryConfig(), logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })

	var businessID int64
	if _, err := a.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		b, err := tx.CreateBusiness(domain.Business{
			Identifier: "BC0000042",
			LegalName:  "Annual Co Ltd.",
			LegalType:  domain.LegalTypeBC,
			State:      domain.StateActive,
		})
		businessID = b.ID
		return err
	}); err != nil {
		t.Fatalf("seed business: %v", err)
	}
	effective := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	filing, err := a.filings.SaveFiling(ctx, domain.Filing{
		BusinessID:    &businessID,
		FilingType:    string(filer.TypeAnnualReport),
		EffectiveDate: effective,
		FilingDate:    effective,
		JSON: json.RawMessage(`{"filing":{"header":{"name":"annualReport"},
			"business":{"identifier":"BC0000042","legalType":"BC"},
			"annualReport":{"annualReportDate":"2024-04-30"}}}`),
	})
	if err != nil {
		t.Fatalf("save filing: %v", err)
	}
	if err := a.broker.Publish(ctx, a.cfg.Queue.FilingTopic, nil, filer.EncodeMessage(filing.ID)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.worker.Run(runCtx) }()
	deadline := time.Now().Add(5 * time.Second)
	for a.broker.Committed(a.cfg.Queue.FilingTopic) < 1 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("message was not committed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := a.store.FindFiling(filing.ID)
	if got.Status != domain.FilingCompleted {
		t.Fatalf("expected completed filing, got %s", got.Status)
	}
	business, _ := a.store.FindBusiness(businessID)
	if business.LastARYear != 2024 {
		t.Fatalf("expected annual report year 2024, got %d", business.LastARYear)
	}
	if n := len(a.broker.Messages(a.cfg.Queue.EmailTopic)); n != 1 {
		t.Fatalf("expected one email request, got %d", n)
	}
	if n := len(a.broker.Messages(a.cfg.Queue.EventTopic)); n != 1 {
		t.Fatalf("expected one event, got %d", n)
	}
	info, err := a.documents.Head(ctx, core.FilingKey("BC0000042", filing.ID, "filing.json"))
	if err != nil {
		t.Fatalf("expected archived filing: %v", err)
	}
	if info.Metadata["filing-type"] != "annualReport" {
		t.Fatalf("unexpected archive metadata %+v", info.Metadata)
	}
	if n := len(a.broker.Messages(a.cfg.Queue.DeadLetterTopic)); n != 0 {
		t.Fatalf("expected no dead letters, got %d", n)
	}
}

const incorporation = `{"filing":{"header":{"name":"incorporationApplication"},
	"business":{"identifier":"T1234567","legalType":"BC"},
	"incorporationApplication":{"offices":{
		"registeredOffice":{"deliveryAddress":{"streetAddress":"1 Main St","addressCity":"Victoria","addressCountry":"CA"}},
		"recordsOffice":{"deliveryAddress":{"streetAddress":"1 Main St","addressCity":"Victoria","addressCountry":"CA"}}}}}}`

// incorporate builds the filer over cfg, processes one incorporation and
// shuts the filer down again.
func incorporate(t *testing.T, cfg config.Config) domain.Filing {
	t.Helper()
	ctx := context.Background()
	a, err := build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = a.close(context.Background()) }()
	effective := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f, err := a.filings.SaveFiling(ctx, domain.Filing{
		FilingType:    string(filer.TypeIncorporationApplication),
		EffectiveDate: effective,
		FilingDate:    effective,
		JSON:          json.RawMessage(incorporation),
	})
	if err != nil {
		t.Fatalf("save filing: %v", err)
	}
	if err := a.processor.Process(ctx, filer.Message{Value: filer.EncodeMessage(f.ID)}); err != nil {
		t.Fatalf("process filing %d: %v", f.ID, err)
	}
	got, _ := a.store.FindFiling(f.ID)
	return got
}

func TestRestartKeepsIdentifierSequence(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "filer.db")

	first := incorporate(t, cfg)
	second := incorporate(t, cfg)
	if first.Status != domain.FilingCompleted || second.Status != domain.FilingCompleted {
		t.Fatalf("both incorporations must complete, got %s and %s", first.Status, second.Status)
	}

	a, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	for filingID, want := range map[int64]string{first.ID: "BC0000001", second.ID: "BC0000002"} {
		f, _ := a.store.FindFiling(filingID)
		if f.BusinessID == nil {
			t.Fatalf("filing %d has no business", filingID)
		}
		b, _ := a.store.FindBusiness(*f.BusinessID)
		if b.Identifier != want {
			t.Fatalf("filing %d: expected %s, got %s", filingID, want, b.Identifier)
		}
	}
}

func TestBuildDeadLettersUnknownFiling(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Retry.MaxAttempts = 2
	a, err := build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	if err := a.broker.Publish(ctx, cfg.Queue.FilingTopic, nil, filer.EncodeMessage(404)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	consumer := a.broker.Consumer(cfg.Queue.FilingTopic)
	d, err := consumer.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	res := a.worker.Handle(ctx, d)
	if res.Attempts != 2 || !res.DeadLettered || !res.Committed {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(a.broker.Messages(cfg.Queue.DeadLetterTopic)); n != 1 {
		t.Fatalf("expected one dead letter, got %d", n)
	}
}

func TestOpsRouterServesMetrics(t *testing.T) {
	a, err := build(context.Background(), memoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		a.ops.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
