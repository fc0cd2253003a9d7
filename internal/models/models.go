package models

import (
	"time"
)

// Provider identifies a cloud provider
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
)

// Severity represents control severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// RemediationRisk represents the blast radius of an automated fix
type RemediationRisk string

const (
	RiskLow    RemediationRisk = "low"
	RiskMedium RemediationRisk = "medium"
	RiskHigh   RemediationRisk = "high"
)

// FindingStatus is the lifecycle status of a finding
type FindingStatus string

const (
	StatusPass   FindingStatus = "PASS"
	StatusFail   FindingStatus = "FAIL"
	StatusFixed  FindingStatus = "FIXED"
	StatusError  FindingStatus = "ERROR"
	StatusManual FindingStatus = "MANUAL"
)

// RemediationStatus tracks the remediation state machine per finding
type RemediationStatus string

const (
	RemediationNone       RemediationStatus = "none"
	RemediationPending    RemediationStatus = "pending"
	RemediationApproved   RemediationStatus = "approved"
	RemediationExecuted   RemediationStatus = "executed"
	RemediationFailed     RemediationStatus = "failed"
	RemediationRolledBack RemediationStatus = "rolledBack"
)

// ScanStatus is the per-account scan lifecycle status
type ScanStatus string

const (
	ScanIdle       ScanStatus = "idle"
	ScanInProgress ScanStatus = "inProgress"
	ScanSuccess    ScanStatus = "success"
	ScanFailed     ScanStatus = "failed"
)

// EventType classifies audit log entries
type EventType string

const (
	EventScan        EventType = "scan"
	EventDetection   EventType = "detection"
	EventRemediation EventType = "remediation"
	EventRollback    EventType = "rollback"
	EventApproval    EventType = "approval"
	EventExport      EventType = "export"
)

// Outcome is the result classification of an audited operation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Organization is a tenant. Read-only to the core.
type Organization struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	ComplianceFrameworks []string               `json:"compliance_frameworks"`
	ContactEmail         string                 `json:"contact_email"`
	Settings             map[string]interface{} `json:"settings,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

// CloudAccount is a tenant-owned binding to one provider account.
// Scan lifecycle fields are mutated only by the detection engine.
type CloudAccount struct {
	ID                string                 `json:"id"`
	OrganizationID    string                 `json:"organization_id"`
	Name              string                 `json:"name"`
	Provider          Provider               `json:"provider"`
	ExternalAccountID string                 `json:"external_account_id"`
	Region            string                 `json:"region"`
	Credentials       map[string]interface{} `json:"-"`
	LastScanAt        *time.Time             `json:"last_scan_at,omitempty"`
	LastScanStatus    ScanStatus             `json:"last_scan_status"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Finding is the persisted outcome of one (scan, control, resource) pair.
type Finding struct {
	ID                    string                 `json:"id"`
	ScanID                string                 `json:"scan_id"`
	CloudAccountID        string                 `json:"cloud_account_id"`
	ControlID             string                 `json:"control_id"`
	Status                FindingStatus          `json:"status"`
	RiskLevel             Severity               `json:"risk_level"`
	ResourceID            string                 `json:"resource_id,omitempty"`
	ResourceType          string                 `json:"resource_type,omitempty"`
	FindingDetails        map[string]interface{} `json:"finding_details,omitempty"`
	EvidenceBefore        map[string]interface{} `json:"evidence_before,omitempty"`
	EvidenceAfter         map[string]interface{} `json:"evidence_after,omitempty"`
	EvidenceKey           string                 `json:"evidence_key,omitempty"`
	RemediationStatus     RemediationStatus      `json:"remediation_status"`
	RemediationApprovedBy string                 `json:"remediation_approved_by,omitempty"`
	RemediationExecutedAt *time.Time             `json:"remediation_executed_at,omitempty"`
	RemediationDetails    map[string]interface{} `json:"remediation_details,omitempty"`
	RollbackData          map[string]interface{} `json:"rollback_data,omitempty"`
	DetectedAt            time.Time              `json:"detected_at"`
	ResolvedAt            *time.Time             `json:"resolved_at,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}

// AuditEntry is one immutable, hash-chained audit log record.
type AuditEntry struct {
	ID             int64                  `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Action         string                 `json:"action"`
	Actor          string                 `json:"actor"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	CloudAccountID string                 `json:"cloud_account_id,omitempty"`
	ControlID      string                 `json:"control_id,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	FindingID      string                 `json:"finding_id,omitempty"`
	EventData      map[string]interface{} `json:"event_data,omitempty"`
	BeforeState    map[string]interface{} `json:"before_state,omitempty"`
	AfterState     map[string]interface{} `json:"after_state,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	Outcome        Outcome                `json:"outcome"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	PrevHash       string                 `json:"prev_hash"`
	Hash           string                 `json:"hash"`
}

// ScanSummary aggregates one scan's results
type ScanSummary struct {
	TotalControls int `json:"total_controls"`
	Pass          int `json:"pass"`
	Fail          int `json:"fail"`
	Error         int `json:"error"`
	TotalFindings int `json:"total_findings"`
}

// ScanResult is the outcome returned by startScan
type ScanResult struct {
	ScanID      string      `json:"scan_id"`
	AccountID   string      `json:"account_id"`
	Status      string      `json:"status"`
	Summary     ScanSummary `json:"summary"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ComplianceScore is the derived pass ratio over evaluated findings.
// ERROR and MANUAL findings are excluded from the denominator.
type ComplianceScore struct {
	Score      float64          `json:"score"`
	Total      int              `json:"total"`
	Pass       int              `json:"pass"`
	Fail       int              `json:"fail"`
	Fixed      int              `json:"fixed"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// FindingFilter narrows listFindings queries
type FindingFilter struct {
	AccountID      string
	OrganizationID string
	ScanID         string
	Status         FindingStatus
	Severity       Severity
	Limit          int
}
