// Package report builds auditor-facing compliance reports. Reports are
// deterministic: the same findings and the same GeneratedAt produce the same
// bytes, so regenerated artifacts can be diffed and hashes compared.
package report

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/catherinevee/compliancemgr/internal/audit"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/evidence"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/metrics"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/store"
)

// Format selects the artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// Builder assembles and exports reports.
type Builder struct {
	store       *store.Store
	auditor     *audit.Writer
	objects     evidence.ObjectStore
	urlValidity time.Duration
	log         logger.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewBuilder creates a report builder
func NewBuilder(st *store.Store, auditor *audit.Writer, objects evidence.ObjectStore, urlValidity time.Duration) *Builder {
	return &Builder{
		store:       st,
		auditor:     auditor,
		objects:     objects,
		urlValidity: urlValidity,
		log:         logger.New("report"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExportRequest selects what to report on.
type ExportRequest struct {
	OrganizationID string
	From           time.Time
	To             time.Time
	Format         Format
	Actor          string
}

// ExportResult is the stored artifact reference. When object storage is
// unavailable the artifact bytes come back inline and Degraded is set.
type ExportResult struct {
	Key         string    `json:"key,omitempty"`
	URL         string    `json:"url,omitempty"`
	Format      Format    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
	Degraded    bool      `json:"degraded,omitempty"`
	Artifact    []byte    `json:"artifact,omitempty"`
}

// Document is the report payload. Field order is fixed; every timestamp in
// the document is either a finding's own time or GeneratedAt.
type Document struct {
	OrganizationID string                 `json:"organization_id"`
	Organization   string                 `json:"organization"`
	Frameworks     []string               `json:"frameworks"`
	WindowFrom     time.Time              `json:"window_from"`
	WindowTo       time.Time              `json:"window_to"`
	GeneratedAt    time.Time              `json:"generated_at"`
	Score          models.ComplianceScore `json:"score"`
	Findings       []FindingRow           `json:"findings"`
	AuditTrail     []AuditRow             `json:"audit_trail"`
}

// FindingRow is the report projection of one finding.
type FindingRow struct {
	ControlID         string                   `json:"control_id"`
	ResourceID        string                   `json:"resource_id"`
	ResourceType      string                   `json:"resource_type,omitempty"`
	Status            models.FindingStatus     `json:"status"`
	RiskLevel         models.Severity          `json:"risk_level"`
	RemediationStatus models.RemediationStatus `json:"remediation_status"`
	DetectedAt        time.Time                `json:"detected_at"`
	EvidenceKey       string                   `json:"evidence_key,omitempty"`
}

// AuditRow is the report projection of one audit entry.
type AuditRow struct {
	ID        int64            `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	EventType models.EventType `json:"event_type"`
	Action    string           `json:"action"`
	Actor     string           `json:"actor"`
	Outcome   models.Outcome   `json:"outcome"`
}

// Build assembles the document for a window without exporting it.
func (b *Builder) Build(ctx context.Context, req ExportRequest) (*Document, error) {
	if req.OrganizationID == "" {
		return nil, apperrors.NewValidationError("organization id is required")
	}
	if !req.To.After(req.From) {
		return nil, apperrors.NewValidationError("report window is empty")
	}

	org, err := b.store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	findings, err := b.store.FindingsInWindow(ctx, req.OrganizationID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	score, err := b.store.ComplianceScore(ctx, models.FindingFilter{OrganizationID: req.OrganizationID})
	if err != nil {
		return nil, err
	}
	entries, err := audit.Query(ctx, b.store.DB(), audit.Filter{
		OrganizationID: req.OrganizationID,
		From:           req.From,
		To:             req.To,
	})
	if err != nil {
		return nil, err
	}

	doc := &Document{
		OrganizationID: org.ID,
		Organization:   org.Name,
		Frameworks:     append([]string(nil), org.ComplianceFrameworks...),
		WindowFrom:     req.From.UTC(),
		WindowTo:       req.To.UTC(),
		GeneratedAt:    b.now(),
		Score:          *score,
	}
	sort.Strings(doc.Frameworks)

	doc.Findings = make([]FindingRow, 0, len(findings))
	for _, f := range findings {
		doc.Findings = append(doc.Findings, FindingRow{
			ControlID:         f.ControlID,
			ResourceID:        f.ResourceID,
			ResourceType:      f.ResourceType,
			Status:            f.Status,
			RiskLevel:         f.RiskLevel,
			RemediationStatus: f.RemediationStatus,
			DetectedAt:        f.DetectedAt.UTC(),
			EvidenceKey:       f.EvidenceKey,
		})
	}
	sort.Slice(doc.Findings, func(i, j int) bool {
		if doc.Findings[i].ControlID != doc.Findings[j].ControlID {
			return doc.Findings[i].ControlID < doc.Findings[j].ControlID
		}
		return doc.Findings[i].ResourceID < doc.Findings[j].ResourceID
	})

	doc.AuditTrail = make([]AuditRow, 0, len(entries))
	for _, entry := range entries {
		doc.AuditTrail = append(doc.AuditTrail, AuditRow{
			ID:        entry.ID,
			Timestamp: entry.Timestamp.UTC(),
			EventType: entry.EventType,
			Action:    entry.Action,
			Actor:     entry.Actor,
			Outcome:   entry.Outcome,
		})
	}
	sort.Slice(doc.AuditTrail, func(i, j int) bool {
		if !doc.AuditTrail[i].Timestamp.Equal(doc.AuditTrail[j].Timestamp) {
			return doc.AuditTrail[i].Timestamp.Before(doc.AuditTrail[j].Timestamp)
		}
		return doc.AuditTrail[i].ID < doc.AuditTrail[j].ID
	})

	return doc, nil
}

// Export builds, encodes, stores, and audits one report. On storage failure
// the caller still gets the artifact inline.
func (b *Builder) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.Format != FormatJSON && req.Format != FormatPDF {
		return nil, apperrors.NewValidationError("unsupported report format").
			WithDetail("format", string(req.Format))
	}

	doc, err := b.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		artifact    []byte
		contentType string
	)
	switch req.Format {
	case FormatJSON:
		artifact, err = EncodeJSON(doc)
		contentType = "application/json"
	case FormatPDF:
		artifact, err = EncodePDF(doc)
		contentType = "application/pdf"
	}
	if err != nil {
		return nil, err
	}

	result := &ExportResult{Format: req.Format, GeneratedAt: doc.GeneratedAt}
	key := evidence.ReportKey(req.OrganizationID, doc.GeneratedAt, string(req.Format))

	if putErr := b.objects.Put(ctx, key, artifact, contentType); putErr != nil {
		b.log.Warn("report upload failed, returning artifact inline",
			logger.String("key", key), logger.Error(putErr))
		result.Degraded = true
		result.Artifact = artifact
	} else {
		result.Key = key
		url, urlErr := b.objects.PresignGet(ctx, key, b.urlValidity)
		if urlErr != nil {
			b.log.Warn("report URL signing failed", logger.String("key", key), logger.Error(urlErr))
			result.Degraded = true
			result.Artifact = artifact
		} else {
			result.URL = url
		}
	}

	outcome := models.OutcomeSuccess
	if result.Degraded {
		outcome = models.OutcomePartial
	}
	metrics.ReportsTotal.WithLabelValues(string(req.Format), string(outcome)).Inc()

	if err := b.auditor.Append(ctx, b.store.DB(), &models.AuditEntry{
		EventType:      models.EventExport,
		Action:         "report.exported",
		Actor:          req.Actor,
		OrganizationID: req.OrganizationID,
		EventData: map[string]interface{}{
			"format":      string(req.Format),
			"key":         result.Key,
			"degraded":    result.Degraded,
			"window_from": req.From.UTC().Format(time.RFC3339),
			"window_to":   req.To.UTC().Format(time.RFC3339),
			"findings":    len(doc.Findings),
		},
		Outcome: outcome,
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// EncodeJSON renders the document as indented, stable JSON.
func EncodeJSON(doc *Document) ([]byte, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to encode report")
	}
	return append(body, '\n'), nil
}
