package workflow

import (
	"reflect"
	"testing"
)

func TestNewChain_Validation(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{"no steps", nil},
		{"empty stage", []Step{{Stage: "", Role: "a"}}},
		{"empty role", []Step{{Stage: "PENDING_A"}}},
		{"terminal stage", []Step{{Stage: StageFinalized, Role: "a"}}},
		{"duplicate stage", []Step{{Stage: "PENDING_A", Role: "a"}, {Stage: "PENDING_A", Role: "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChain("clerk", tt.steps...); err == nil {
				t.Error("NewChain() should fail")
			}
		})
	}
}

func TestChain_Navigation(t *testing.T) {
	c := DefaultExitPermitChain()

	if c.First() != StagePendingCEO {
		t.Errorf("First() = %v, want %v", c.First(), StagePendingCEO)
	}
	if c.Last() != StagePendingSecurity {
		t.Errorf("Last() = %v, want %v", c.Last(), StagePendingSecurity)
	}

	next, ok := c.Next(StagePendingWarehouse)
	if !ok || next != StagePendingSecurity {
		t.Errorf("Next(WAREHOUSE) = %v, %v", next, ok)
	}
	next, ok = c.Next(StagePendingSecurity)
	if !ok || next != StageFinalized {
		t.Errorf("Next(SECURITY) = %v, %v", next, ok)
	}
	if _, ok := c.Next(StageFinalized); ok {
		t.Error("Next(FINALIZED) should report false")
	}

	role, ok := c.RoleFor(StagePendingFactory)
	if !ok || role != "factory_manager" {
		t.Errorf("RoleFor(FACTORY) = %v, %v", role, ok)
	}
	if c.SubmitterRole() != "clerk" {
		t.Errorf("SubmitterRole() = %v", c.SubmitterRole())
	}
}

func TestChain_StagesBefore(t *testing.T) {
	c := DefaultPaymentOrderChain()

	tests := []struct {
		stage Stage
		want  []Stage
	}{
		{StagePendingCEO, []Stage{}},
		{StagePendingAccounting, []Stage{StagePendingCEO, StagePendingFinance}},
		{StageFinalized, []Stage{StagePendingCEO, StagePendingFinance, StagePendingAccounting, StagePendingTreasury}},
		{StageRejected, []Stage{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := c.StagesBefore(tt.stage); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StagesBefore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChain_StepsIsCopy(t *testing.T) {
	c := DefaultExitPermitChain()
	steps := c.Steps()
	steps[0].Role = "intruder"

	if role, _ := c.RoleFor(StagePendingCEO); role != "ceo" {
		t.Errorf("mutating Steps() changed the chain: role = %v", role)
	}
}
