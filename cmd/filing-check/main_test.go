package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const annualReport = `{"filing":{"header":{"name":"annualReport"},"business":{"identifier":"BC0000001"},
"changeOfAddress":{"offices":{}},"annualReport":{},"notes":{}}}`

func writeSubmission(t *testing.T, name, content string) string {
	t.Helper()
	dir, err := os.MkdirTemp(".", "submissions")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestCLIPrintsPlanInPriorityOrder(t *testing.T) {
	path := writeSubmission(t, "ar.json", annualReport)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{path}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	want := path + ": changeOfAddress -> annualReport (ignored: notes)\n"
	if stdout.String() != want {
		t.Fatalf("expected %q, got %q", want, stdout.String())
	}
}

func TestCLIReadsStdinAsJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(`{"filing":{"header":{"name":"incorporationApplication"},"incorporationApplication":{}}}`)
	if code := cli([]string{"-json"}, stdin, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	var report Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Path != "-" || len(report.Plan) != 1 || report.Plan[0] != "incorporationApplication" || report.Error != "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestCLIReportsFailures(t *testing.T) {
	cases := map[string]string{
		"empty.json":    `{"filing":{"header":{"name":"unknown"},"unknown":{}}}`,
		"header.json":   `{"filing":{"header":{"name":"dissolution"},"business":{"identifier":"BC0000001"},"annualReport":{}}}`,
		"orphan.json":   `{"filing":{"header":{"name":"annualReport"},"annualReport":{}}}`,
		"garbage.json":  `not json`,
		"nofiling.json": `{"other":{}}`,
	}
	for name, content := range cases {
		path := writeSubmission(t, name, content)
		var stdout, stderr bytes.Buffer
		if code := cli([]string{path}, nil, &stdout, &stderr); code != 1 {
			t.Fatalf("%s: expected failure, got %d", name, code)
		}
		if !strings.Contains(stdout.String(), "FAIL") {
			t.Fatalf("%s: expected FAIL line, got %q", name, stdout.String())
		}
	}
}

func TestCLIRejectsUnsafePaths(t *testing.T) {
	for _, p := range []string{"/etc/passwd", "../outside.json", " "} {
		var stdout, stderr bytes.Buffer
		if code := cli([]string{p}, nil, &stdout, &stderr); code != 1 {
			t.Fatalf("%q: expected failure, got %d", p, code)
		}
	}
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-bogus"}, nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected flag error code 2, got %d", code)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	path := writeSubmission(t, "ar.json", annualReport)
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"filing-check", path}
	main()
	os.Args = []string{"filing-check", "does-not-exist.json"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] == 0 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}
