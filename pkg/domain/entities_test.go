package domain

import (
	"testing"
	"time"
)

func TestPartyName(t *testing.T) {
	cases := []struct {
		party Party
		want  string
	}{
		{Party{FirstName: "Jane", LastName: "Doe"}, "Jane Doe"},
		{Party{FirstName: "Jane", MiddleInitial: "Q", LastName: "Doe"}, "Jane Q Doe"},
		{Party{FirstName: "Jane", LastName: "Doe", OrganizationName: "Keeper Inc."}, "Keeper Inc."},
		{Party{FirstName: "Cher"}, "Cher"},
	}
	for _, c := range cases {
		if got := c.party.Name(); got != c.want {
			t.Fatalf("Name()=%q want %q", got, c.want)
		}
	}
}

func TestBusinessOfficeAndActiveRoles(t *testing.T) {
	ceased := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Business{
		Offices: []Office{{Type: OfficeRegistered}, {Type: OfficeRecords}},
		PartyRoles: []PartyRole{
			{Role: RoleDirector, Party: Party{FirstName: "A"}},
			{Role: RoleDirector, Party: Party{FirstName: "B"}, CessationDate: &ceased},
			{Role: RoleIncorporator, Party: Party{FirstName: "C"}},
		},
	}
	office, ok := b.Office(OfficeRecords)
	if !ok {
		t.Fatalf("expected records office")
	}
	office.DeliveryAddress.StreetAddress = "1 Main St"
	if b.Offices[1].DeliveryAddress.StreetAddress != "1 Main St" {
		t.Fatalf("Office must return a pointer into the aggregate")
	}
	if _, ok := b.Office(OfficeBusiness); ok {
		t.Fatalf("unexpected business office")
	}
	directors := b.ActiveRoles(RoleDirector)
	if len(directors) != 1 || directors[0].Party.FirstName != "A" {
		t.Fatalf("unexpected active directors %+v", directors)
	}
}

func TestIsFirm(t *testing.T) {
	for _, lt := range []string{LegalTypeSoleProp, LegalTypePartnership} {
		if !IsFirm(lt) {
			t.Fatalf("%s should be a firm", lt)
		}
	}
	for _, lt := range []string{LegalTypeBC, LegalTypeBenefit, LegalTypeCoop, ""} {
		if IsFirm(lt) {
			t.Fatalf("%q should not be a firm", lt)
		}
	}
}

func TestFilingSetProcessed(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f := Filing{Status: FilingPending}
	if f.Completed() {
		t.Fatalf("pending filing reported completed")
	}
	f.SetProcessed(LegalTypeBC, at)
	if !f.Completed() || f.ProcessedLegalType != LegalTypeBC {
		t.Fatalf("unexpected filing %+v", f)
	}
	if f.CompletionDate == nil || !f.CompletionDate.Equal(at) {
		t.Fatalf("unexpected completion date %v", f.CompletionDate)
	}
}
