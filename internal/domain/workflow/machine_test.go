package workflow

import (
	"context"
	"errors"
	"testing"
)

func testChain(t *testing.T) *Chain {
	t.Helper()
	c, err := NewChain("clerk",
		Step{Stage: "PENDING_A", Role: "a"},
		Step{Stage: "PENDING_B", Role: "b"},
	)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	return c
}

func TestStage_IsTerminal(t *testing.T) {
	tests := []struct {
		stage    Stage
		expected bool
	}{
		{StagePendingCEO, false},
		{StagePendingSecurity, false},
		{StagePendingTreasury, false},
		{StageFinalized, true},
		{StageRejected, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := tt.stage.IsTerminal(); got != tt.expected {
				t.Errorf("Stage.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerApprove.String(); got != "APPROVE" {
		t.Errorf("Trigger.String() = %v, want %v", got, "APPROVE")
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder(testChain(t))

	config := builder.Configure("PENDING_A")
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure("PENDING_A"); config != config2 {
		t.Error("Configure() should return same config for same stage")
	}
}

func TestBuilder_ConfigurePanicsOnForeignStage(t *testing.T) {
	builder := NewBuilder(testChain(t))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on a stage outside the chain")
		}
	}()

	builder.Configure(StagePendingCEO)
}

func TestBuilder_BuildPanicsOnForeignInitialStage(t *testing.T) {
	builder := NewBuilder(testChain(t))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on a stage outside the chain")
		}
	}()

	builder.Build(Stage("UNKNOWN"))
}

func TestStageConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder(testChain(t))
	builder.Configure("PENDING_A").
		PermitIf(TriggerApprove, "PENDING_B", func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build("PENDING_A")

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.Stage() != "PENDING_A" {
		t.Errorf("Stage should remain PENDING_A after failed Fire(), got %v", machine.Stage())
	}
}

func TestStageConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	builder := NewBuilder(testChain(t))
	builder.Configure("PENDING_A").
		PermitIf(TriggerApprove, StageFinalized, RequireRole("boss")).
		PermitIf(TriggerApprove, "PENDING_B", RequireRole("a"))

	m1 := builder.Build("PENDING_A")
	if err := m1.Fire(WithActor(context.Background(), "boss"), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m1.Stage() != StageFinalized {
		t.Errorf("Stage = %v, want %v", m1.Stage(), StageFinalized)
	}

	m2 := builder.Build("PENDING_A")
	if err := m2.Fire(WithActor(context.Background(), "a"), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m2.Stage() != "PENDING_B" {
		t.Errorf("Stage = %v, want PENDING_B", m2.Stage())
	}
}

func TestBuilder_BuildIsolatesMachines(t *testing.T) {
	builder := NewBuilder(testChain(t))
	builder.Configure("PENDING_A").Permit(TriggerApprove, "PENDING_B")

	machine := builder.Build("PENDING_A")
	builder.Configure("PENDING_A").Permit(TriggerReject, StageRejected)

	if machine.CanFire(TriggerReject) {
		t.Error("configuration added after Build() leaked into the machine")
	}
}

func TestStageMachine_FireUnconfigured(t *testing.T) {
	machine := NewBuilder(testChain(t)).Build("PENDING_A")

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestBuildMachine_WalksChainInOrder(t *testing.T) {
	chain := DefaultExitPermitChain()
	machine := BuildMachine(chain, chain.First())

	for _, step := range chain.Steps() {
		if machine.Stage() != step.Stage {
			t.Fatalf("Stage = %v, want %v", machine.Stage(), step.Stage)
		}
		ctx := WithActor(context.Background(), step.Role)
		if err := machine.Fire(ctx, TriggerApprove); err != nil {
			t.Fatalf("Fire(%s) as %s failed: %v", TriggerApprove, step.Role, err)
		}
	}

	if machine.Stage() != StageFinalized {
		t.Errorf("Stage = %v, want %v", machine.Stage(), StageFinalized)
	}

	err := machine.Fire(WithActor(context.Background(), "security"), TriggerApprove)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approve after finalize error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestBuildMachine_WrongRoleRejected(t *testing.T) {
	chain := DefaultPaymentOrderChain()
	machine := BuildMachine(chain, StagePendingFinance)

	err := machine.Fire(WithActor(context.Background(), "ceo"), TriggerApprove)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if err := machine.Fire(context.Background(), TriggerApprove); !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() without actor error = %v, want %v", err, ErrGuardFailed)
	}
}

func TestBuildMachine_FinalizeOnlyFromLastStep(t *testing.T) {
	chain := DefaultExitPermitChain()

	early := BuildMachine(chain, StagePendingWarehouse)
	if early.CanFire(TriggerFinalize) {
		t.Error("finalize should not be configured before the last step")
	}

	last := BuildMachine(chain, chain.Last())
	if err := last.Fire(WithActor(context.Background(), "security"), TriggerFinalize); err != nil {
		t.Fatalf("Fire(FINALIZE) failed: %v", err)
	}
	if last.Stage() != StageFinalized {
		t.Errorf("Stage = %v, want %v", last.Stage(), StageFinalized)
	}
}

func TestBuildMachine_EditResetsFromAnyStage(t *testing.T) {
	chain := DefaultExitPermitChain()
	stages := append(chain.StagesBefore(StageFinalized), StageFinalized, StageRejected)

	for _, stage := range stages {
		t.Run(string(stage), func(t *testing.T) {
			machine := BuildMachine(chain, stage)
			if err := machine.Fire(context.Background(), TriggerEdit); err != nil {
				t.Fatalf("Fire(EDIT) failed: %v", err)
			}
			if machine.Stage() != chain.First() {
				t.Errorf("Stage = %v, want %v", machine.Stage(), chain.First())
			}
		})
	}
}

func TestBuildMachine_RejectFromPending(t *testing.T) {
	chain := DefaultExitPermitChain()
	machine := BuildMachine(chain, StagePendingFactory)

	if err := machine.Fire(WithActor(context.Background(), "factory_manager"), TriggerReject); err != nil {
		t.Fatalf("Fire(REJECT) failed: %v", err)
	}
	if machine.Stage() != StageRejected {
		t.Errorf("Stage = %v, want %v", machine.Stage(), StageRejected)
	}
	if machine.CanFire(TriggerApprove) {
		t.Error("a rejected document should not accept approvals")
	}
}

func TestStageMismatchError_Is(t *testing.T) {
	err := error(&StageMismatchError{DocumentID: "d1", Stage: StagePendingCEO, Role: "warehouse", Trigger: TriggerApprove, Err: ErrGuardFailed})

	if !errors.Is(err, ErrStageMismatch) {
		t.Error("errors.Is(err, ErrStageMismatch) = false")
	}
	if !errors.Is(err, ErrGuardFailed) {
		t.Error("StageMismatchError should unwrap to the machine error")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("StageMismatchError should not match ErrValidation")
	}
}
