package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentSubmitted Type = "document.submitted"
	TypeDocumentAdvanced  Type = "document.advanced"
	TypeDocumentRejected  Type = "document.rejected"
	TypeDocumentEdited    Type = "document.edited"
	TypeDocumentFinalized Type = "document.finalized"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentSubmitted,
		TypeDocumentAdvanced,
		TypeDocumentRejected,
		TypeDocumentEdited,
		TypeDocumentFinalized:
		return true
	default:
		return false
	}
}
