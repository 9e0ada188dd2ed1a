package filer

import (
	"context"
	"reflect"
	"testing"
)

func nopTransition() Transition {
	return TransitionFunc(func(_ context.Context, in Input) (Output, error) {
		return Output{Filing: in.Filing}, nil
	})
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(TypeAnnualReport, nil); err == nil {
		t.Fatalf("expected nil transition to be rejected")
	}
	if err := reg.Register(FilingType("amalgamationApplication"), nopTransition()); err == nil {
		t.Fatalf("expected type without a priority slot to be rejected")
	}
	if err := reg.Register(TypeAnnualReport, nopTransition()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(TypeAnnualReport, nopTransition()); err == nil {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestRegistryPlanFollowsPriorityOrder(t *testing.T) {
	reg := NewRegistry()
	for _, ft := range []FilingType{TypeCorrection, TypeChangeOfAddress, TypeAlteration, TypeIncorporationApplication} {
		if err := reg.Register(ft, nopTransition()); err != nil {
			t.Fatalf("register %s: %v", ft, err)
		}
	}
	got := reg.Plan([]string{"correction", "changeOfAddress", "unknownThing", "alteration", "annualReport", "alteration"})
	want := []FilingType{TypeAlteration, TypeChangeOfAddress, TypeCorrection}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	registered := reg.Registered()
	if registered[0] != TypeIncorporationApplication || registered[len(registered)-1] != TypeCorrection {
		t.Fatalf("registered not in priority order: %v", registered)
	}
	if len(reg.Plan(nil)) != 0 {
		t.Fatalf("expected empty plan for no keys")
	}
}

func TestPriorityOrderPlacesCreationFirstAndCorrectionLast(t *testing.T) {
	order := PriorityOrder()
	for i, ft := range order[:3] {
		if !ft.CreatesBusiness() {
			t.Fatalf("position %d: %s does not create a business", i, ft)
		}
	}
	for _, ft := range order[3:] {
		if ft.CreatesBusiness() {
			t.Fatalf("%s creates a business but runs after the creation slot", ft)
		}
	}
	if order[len(order)-1] != TypeCorrection {
		t.Fatalf("correction must run last, got %s", order[len(order)-1])
	}
	order[0] = TypeDissolution
	if PriorityOrder()[0] != TypeIncorporationApplication {
		t.Fatalf("PriorityOrder must return a copy")
	}
}
