package filer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"testing"
	"time"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()
	rec.Observe(ctx, "process_filing", true, 10*time.Millisecond)
	rec.Observe(ctx, "process_filing", false, 30*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	stats := rec.Snapshot()["process_filing"]
	if stats.Succeeded != 1 || stats.Failed != 1 || stats.MaxMS != 30 || stats.TotalMS != 40 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(rec.Snapshot()) != 1 {
		t.Fatalf("empty operation names must be ignored")
	}
	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("recorder not published under %s", rec.Name())
	}
	var decoded map[string]OperationStats
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded["process_filing"].Failed != 1 {
		t.Fatalf("unexpected published stats %+v", decoded)
	}
}

func TestJSONTracerWritesFinishedSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "effect_email")
	span.End(errors.New("smtp down"))
	span.End(nil)

	spans := tracer.Spans()
	if len(spans) != 1 || spans[0].OK || spans[0].Error != "smtp down" || spans[0].Operation != "effect_email" {
		t.Fatalf("unexpected spans %+v", spans)
	}
	var line SpanRecord
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode line %q: %v", buf.String(), err)
	}
	if line.Operation != "effect_email" {
		t.Fatalf("unexpected line %+v", line)
	}
}
