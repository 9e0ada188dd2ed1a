package filer

import (
	"testing"

	"entityfiler/testutil"
)

func TestFilerCoreImportsNoAdapters(t *testing.T) {
	forbidden := testutil.Any(testutil.InfraImportForbidden, testutil.DriverImportForbidden)
	for _, dir := range []string{".", "transitions", "effects"} {
		testutil.AssertNoDirectImports(t, dir, forbidden, "the dispatch loop sees ports, not adapters: "+dir)
	}
}
