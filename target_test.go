package bootloader

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestNewPlanAggregateWithoutHabs(t *testing.T) {
	for _, name := range []string{AggregateAll, AggregateMCU} {
		plan, err := NewPlan(name, false, false)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		want := []Target{TargetEx, TargetRe, TargetMn}
		if !reflect.DeepEqual(plan, want) {
			t.Fatalf("%s: got %v, want %v", name, plan, want)
		}
	}
}

func TestNewPlanAggregateWithHabs(t *testing.T) {
	plan, err := NewPlan(AggregateAll, true, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []Target{TargetHabs, TargetEx, TargetRe, TargetMn}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("got %v, want %v", plan, want)
	}
}

func TestNewPlanForceHabs(t *testing.T) {
	plan, err := NewPlan(AggregateAll, false, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []Target{TargetHabs, TargetEx, TargetRe, TargetMn}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("got %v, want %v", plan, want)
	}
}

func TestNewPlanExplicitTargetNeverDropped(t *testing.T) {
	// An explicitly requested target is honored even when the device
	// says it has no such board; only the aggregate expansion filters.
	plan, err := NewPlan("habs", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plan, []Target{TargetHabs}) {
		t.Fatalf("got %v, want [habs]", plan)
	}
}

func TestNewPlanSingleTargets(t *testing.T) {
	for _, name := range []string{"mn", "ex", "re", "bt121", "xbee"} {
		plan, err := NewPlan(name, true, false)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(plan) != 1 || string(plan[0]) != name {
			t.Fatalf("%s: got %v", name, plan)
		}
	}
}

func TestNewPlanUnknownTarget(t *testing.T) {
	_, err := NewPlan("bt122", false, false)
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
}

func TestExtensions(t *testing.T) {
	want := map[Target]string{
		TargetHabs: "hex",
		TargetEx:   "cyacd",
		TargetRe:   "cyacd",
		TargetMn:   "dfu",
	}
	for target, ext := range want {
		if got := target.Extension(); got != ext {
			t.Fatalf("%s: got %q, want %q", target, got, ext)
		}
	}
}

func TestOnlyManageReleasesPort(t *testing.T) {
	for _, target := range []Target{TargetHabs, TargetEx, TargetRe, TargetMn, TargetBT121, TargetXbee} {
		if got := target.ReleasesPort(); got != (target == TargetMn) {
			t.Fatalf("%s: ReleasesPort() = %v", target, got)
		}
	}
}
