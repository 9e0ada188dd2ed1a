// Command filing-check validates filing submissions offline and prints the
// order the filer would apply their legal filings in.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"entityfiler/internal/filer"
	"entityfiler/internal/filer/transitions"
)

var exitFunc = os.Exit

// Report is the result for one submission.
type Report struct {
	Path    string   `json:"path"`
	Plan    []string `json:"plan,omitempty"`
	Ignored []string `json:"ignored,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func main() {
	code := cli(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("filing-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "print reports as JSON lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	registry, err := transitions.NewRegistry(transitions.Deps{})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build registry: %v\n", err)
		return 1
	}

	failed := 0
	for _, p := range paths {
		report := check(registry, p, stdin)
		if report.Error != "" {
			failed++
		}
		if err := write(stdout, report, asJSON); err != nil {
			return 1
		}
	}
	if failed > 0 {
		if _, err := fmt.Fprintf(stderr, "%d of %d submissions failed\n", failed, len(paths)); err != nil {
			return 1
		}
		return 1
	}
	return 0
}

func write(w io.Writer, r Report, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	if r.Error != "" {
		_, err := fmt.Fprintf(w, "%s: FAIL %s\n", r.Path, r.Error)
		return err
	}
	line := r.Path + ": " + strings.Join(r.Plan, " -> ")
	if len(r.Ignored) > 0 {
		line += " (ignored: " + strings.Join(r.Ignored, ", ") + ")"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func check(registry *filer.Registry, path string, stdin io.Reader) Report {
	report := Report{Path: path}
	raw, err := read(path, stdin)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	env, err := filer.ParseEnvelope(raw)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	plan := registry.Plan(env.Keys())
	known := make(map[string]struct{}, len(plan))
	for _, t := range plan {
		report.Plan = append(report.Plan, string(t))
		known[string(t)] = struct{}{}
	}
	for _, k := range env.Keys() {
		if _, ok := known[k]; !ok {
			report.Ignored = append(report.Ignored, k)
		}
	}
	if err := validatePlan(env, plan); err != nil {
		report.Error = err.Error()
	}
	return report
}

// validatePlan applies the checks the dispatch loop makes before opening a
// unit of work.
func validatePlan(env filer.Envelope, plan []filer.FilingType) error {
	if len(plan) == 0 {
		return errors.New("carries no registered legal filing")
	}
	if name := env.Header.Name; name != "" && !env.Has(filer.FilingType(name)) {
		return fmt.Errorf("header names %q but the filing has no such payload", name)
	}
	if !plan[0].CreatesBusiness() && env.Business.Identifier == "" {
		return fmt.Errorf("%s needs an existing business identifier", plan[0])
	}
	return nil
}

func read(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	safe, err := validatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(safe) // #nosec G304: path validated by validatePath
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	return data, nil
}

// validatePath ensures the submission path is within the working tree and
// not an absolute or path-traversing reference.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}
