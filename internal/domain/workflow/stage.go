package workflow

// Stage represents a step in a document's approval chain
type Stage string

// Terminal stages shared by every chain
const (
	StageFinalized Stage = "FINALIZED"
	StageRejected  Stage = "REJECTED"
)

// Pending stages used by the default chains
const (
	StagePendingCEO        Stage = "PENDING_CEO"
	StagePendingFactory    Stage = "PENDING_FACTORY"
	StagePendingWarehouse  Stage = "PENDING_WAREHOUSE"
	StagePendingSecurity   Stage = "PENDING_SECURITY"
	StagePendingFinance    Stage = "PENDING_FINANCE"
	StagePendingAccounting Stage = "PENDING_ACCOUNTING"
	StagePendingTreasury   Stage = "PENDING_TREASURY"
)

// IsTerminal returns true if no approval is pending in this stage
func (s Stage) IsTerminal() bool {
	return s == StageFinalized || s == StageRejected
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// Role names the approver role that gates a stage
type Role string

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}
