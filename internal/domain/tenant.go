package domain

import (
	"time"

	"github.com/google/uuid"
)

// TenantConfig is the per-tenant policy surface of the pipeline. Values
// come from the tenants table in the sink, with process-level defaults
// applied for unset fields.
type TenantConfig struct {
	TenantID uuid.UUID `json:"tenant_id"`

	// CriticalSeverity is the minimum severity that qualifies an event
	// for alert evaluation.
	CriticalSeverity Severity `json:"critical_severity"`

	// SuppressionWindow is the minimum interval between notifications
	// for the same (tenant, fingerprint).
	SuppressionWindow time.Duration `json:"suppression_window"`

	// RuleVersion selects the fingerprint normalization rule set applied
	// to newly admitted events.
	RuleVersion int `json:"rule_version"`

	// RedeliveryCeiling is the number of delivery attempts after which a
	// message is dead-lettered instead of retried.
	RedeliveryCeiling int `json:"redelivery_ceiling"`
}
