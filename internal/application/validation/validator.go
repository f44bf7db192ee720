package validation

// Validator bundles the vocabulary guard behind pipeline.Validator's four
// methods (CitationIntegrity, ScanForbidden, Rewrite, ApplyConstraints).
// CitationIntegrity is defined in citation.go as a method on this type so it
// can stay a pure function of its arguments with no guard state of its own.
type Validator struct {
	*VocabGuard
}

// New wraps a loaded VocabGuard as the pipeline.Validator implementation.
func New(guard *VocabGuard) *Validator {
	return &Validator{VocabGuard: guard}
}
