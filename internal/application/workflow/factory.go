package workflow

import (
	"fmt"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/permit-approvals/internal/domain/workflow"
)

// Chains maps each document type to its approval chain
type Chains struct {
	byType map[entity.DocumentType]*domainwf.Chain
}

// NewChains validates that every chain belongs to a known document type
func NewChains(chains map[entity.DocumentType]*domainwf.Chain) (*Chains, error) {
	byType := make(map[entity.DocumentType]*domainwf.Chain, len(chains))
	for docType, chain := range chains {
		if !docType.IsValid() {
			return nil, fmt.Errorf("unknown document type %q", docType)
		}
		if chain == nil {
			return nil, fmt.Errorf("chain for %s is nil", docType)
		}
		byType[docType] = chain
	}
	return &Chains{byType: byType}, nil
}

// DefaultChains returns the built-in exit permit and payment order chains
func DefaultChains() *Chains {
	return &Chains{byType: map[entity.DocumentType]*domainwf.Chain{
		entity.DocumentTypeExitPermit:   domainwf.DefaultExitPermitChain(),
		entity.DocumentTypePaymentOrder: domainwf.DefaultPaymentOrderChain(),
	}}
}

// For returns the chain configured for a document type
func (c *Chains) For(docType entity.DocumentType) (*domainwf.Chain, bool) {
	chain, ok := c.byType[docType]
	return chain, ok
}

// machineFor builds a state machine positioned at the document's stage
func (c *Chains) machineFor(doc *entity.Document) (*domainwf.Chain, domainwf.StageMachine, error) {
	chain, ok := c.For(doc.Type)
	if !ok {
		return nil, nil, fmt.Errorf("no chain configured for %s", doc.Type)
	}
	if !chain.Contains(doc.Stage) {
		return nil, nil, fmt.Errorf("document %s has stage %s outside its chain", doc.ID, doc.Stage)
	}
	return chain, domainwf.BuildMachine(chain, doc.Stage), nil
}
