package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "entityfiler/internal/filer", true},
		{InternalImportForbidden, "entityfiler/pkg/domain", false},
		{InfraImportForbidden, "entityfiler/internal/infra/queue/kafka", true},
		{InfraImportForbidden, "entityfiler/internal/infra", true},
		{InfraImportForbidden, "entityfiler/internal/infrastructure", false},
		{DriverImportForbidden, "github.com/segmentio/kafka-go", true},
		{DriverImportForbidden, "github.com/redis/go-redis/v9", true},
		{DriverImportForbidden, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{DriverImportForbidden, "github.com/shopspring/decimal", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
	either := Any(InfraImportForbidden, DriverImportForbidden)
	if !either("modernc.org/sqlite") || either("context") {
		t.Fatalf("Any must match when one predicate matches")
	}
}

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestAssertNoDirectImportsPasses(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"x.go":      "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}",
		"x_test.go": "package tmp\nimport _ \"entityfiler/internal/infra/queue/memory\"",
	})
	AssertNoDirectImports(t, dir, InfraImportForbidden, "tests are exempt")
}

type captureFatal struct{ msg string }

func (c *captureFatal) Fatalf(format string, args ...any) { c.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolationsReported(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"x.go": "package tmp\nimport (\n\t\"github.com/redis/go-redis/v9\"\n\t\"context\"\n)\nvar _ = redis.Nil\nvar _ context.Context",
	})
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "go-redis") || !strings.Contains(viols[0], "x.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
	var c captureFatal
	failIfDirectViolations(&c, "drivers", viols)
	if !strings.Contains(c.msg, "drivers") {
		t.Fatalf("expected reason in failure, got %q", c.msg)
	}
}

func TestDirectImportViolationsBadSource(t *testing.T) {
	dir := writePackage(t, map[string]string{"x.go": "package"})
	if _, err := directImportViolations(dir, InfraImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InfraImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}
