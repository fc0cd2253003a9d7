package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
)

// EncodePDF renders the document as a PDF. The creation and modification
// dates are pinned to GeneratedAt so identical documents encode to identical
// bytes.
func EncodePDF(doc *Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.SetModificationDate(doc.GeneratedAt)
	pdf.SetTitle("Compliance Report", false)
	pdf.SetAuthor(doc.Organization, false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Compliance Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Organization: %s (%s)", doc.Organization, doc.OrganizationID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s to %s",
		doc.WindowFrom.Format(time.RFC3339), doc.WindowTo.Format(time.RFC3339)))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", doc.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Compliance Score")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Score: %.1f%%  (pass %d, fixed %d, fail %d of %d evaluated)",
		doc.Score.Score*100, doc.Score.Pass, doc.Score.Fixed, doc.Score.Fail, doc.Score.Total))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, fmt.Sprintf("Findings (%d)", len(doc.Findings)))
	pdf.Ln(9)

	header := []struct {
		label string
		width float64
	}{
		{"Control", 32},
		{"Resource", 62},
		{"Status", 20},
		{"Risk", 20},
		{"Remediation", 26},
		{"Detected", 20},
	}
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for _, h := range header {
		pdf.CellFormat(h.width, 6, h.label, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 7)
	for _, row := range doc.Findings {
		pdf.CellFormat(32, 5, row.ControlID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(62, 5, truncate(row.ResourceID, 48), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 5, string(row.Status), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 5, string(row.RiskLevel), "1", 0, "L", false, 0, "")
		pdf.CellFormat(26, 5, string(row.RemediationStatus), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 5, row.DetectedAt.Format("2006-01-02"), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, fmt.Sprintf("Audit Trail (%d entries)", len(doc.AuditTrail)))
	pdf.Ln(9)

	pdf.SetFont("Helvetica", "", 7)
	for _, entry := range doc.AuditTrail {
		pdf.Cell(0, 4, fmt.Sprintf("%s  %-12s %-28s %s (%s)",
			entry.Timestamp.Format(time.RFC3339), entry.EventType, entry.Action,
			entry.Actor, entry.Outcome))
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to render report PDF")
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
