// Package fingerprint derives stable grouping keys from error signatures.
package fingerprint

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/user/error-pipeline/internal/domain"
)

// Fingerprinter computes deterministic grouping keys. It is a pure
// function of its inputs: no state, no clock, no randomness. Identical
// input yields identical output regardless of which worker or retry
// attempt computes it, which is what makes deduplication correct under
// at-least-once delivery.
type Fingerprinter struct {
	registry *Registry
}

func New(registry *Registry) *Fingerprinter {
	return &Fingerprinter{registry: registry}
}

// Fingerprint derives the grouping key for an event using the rule-set
// version stamped on the event at admission.
func (f *Fingerprinter) Fingerprint(event *domain.LogEvent) (domain.Fingerprint, error) {
	rs, err := f.registry.Get(event.RuleVersion)
	if err != nil {
		return "", err
	}
	return compute(rs, event.TenantID, event.StackTrace, event.Message), nil
}

func compute(rs *RuleSet, tenantID uuid.UUID, stack []domain.StackFrame, signature string) domain.Fingerprint {
	var b strings.Builder
	b.WriteString(tenantID.String())
	b.WriteByte('\n')
	for _, frame := range stack {
		b.WriteString(rs.Apply(frame.Function))
		b.WriteByte('|')
		b.WriteString(rs.Apply(frame.File))
		b.WriteByte('|')
		// Line numbers shift between releases of the same code path;
		// they are volatile by definition and excluded from the key.
		b.WriteByte('\n')
	}
	b.WriteString(rs.Apply(signature))

	sum := blake3.Sum256([]byte(b.String()))
	return domain.Fingerprint(hex.EncodeToString(sum[:16]))
}

// EventIdentity hashes the canonical content of a submission into the
// idempotency key carried by the envelope. ReceivedAt and the generated
// event ID are deliberately excluded: a client retransmitting the same
// payload produces the same identity.
func EventIdentity(tenantID uuid.UUID, clientTimestamp string, severity domain.Severity, message string, stack []domain.StackFrame) string {
	var b strings.Builder
	b.WriteString(tenantID.String())
	b.WriteByte('\n')
	b.WriteString(clientTimestamp)
	b.WriteByte('\n')
	b.WriteString(string(severity))
	b.WriteByte('\n')
	b.WriteString(message)
	b.WriteByte('\n')
	for _, frame := range stack {
		b.WriteString(frame.Function)
		b.WriteByte('|')
		b.WriteString(frame.File)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(frame.Line))
		b.WriteByte('\n')
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
