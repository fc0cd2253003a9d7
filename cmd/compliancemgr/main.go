package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catherinevee/compliancemgr/internal/audit"
	cloudaws "github.com/catherinevee/compliancemgr/internal/cloud/aws"
	"github.com/catherinevee/compliancemgr/internal/config"
	"github.com/catherinevee/compliancemgr/internal/controls"
	controlsaws "github.com/catherinevee/compliancemgr/internal/controls/aws"
	"github.com/catherinevee/compliancemgr/internal/detection"
	"github.com/catherinevee/compliancemgr/internal/evidence"
	"github.com/catherinevee/compliancemgr/internal/logger"
	"github.com/catherinevee/compliancemgr/internal/models"
	"github.com/catherinevee/compliancemgr/internal/remediation"
	"github.com/catherinevee/compliancemgr/internal/report"
	"github.com/catherinevee/compliancemgr/internal/service"
	"github.com/catherinevee/compliancemgr/internal/store"
)

const usage = `compliancemgr - continuous cloud compliance

Usage:
  compliancemgr [flags] <command> [args]

Commands:
  serve                          run the daemon (metrics endpoint, audit pruning)
  scan <account-id>              run a compliance scan
  score <account-id|org:<id>>    show the compliance score
  findings <account-id>          list findings for an account
  remediate <finding-id>         execute an approved remediation
  rollback <finding-id>          revert an executed remediation
  report <org-id>                export a compliance report
  verify-audit <org-id>          verify the audit hash chain

Flags:
  -config <path>    configuration file
  -actor <email>    acting user for audited operations
  -controls <ids>   comma-separated control IDs to scan (default all)
  -dry-run          rehearse a remediation without mutating anything
  -verify           re-detect after remediation
  -format <fmt>     report format: json or pdf (default json)
  -days <n>         report window in days (default 30)
`

func main() {
	var (
		configPath = flag.String("config", "", "configuration file")
		actor      = flag.String("actor", "", "acting user for audited operations")
		controlIDs = flag.String("controls", "", "comma-separated control IDs to scan")
		dryRun     = flag.Bool("dry-run", false, "rehearse a remediation without mutating anything")
		verify     = flag.Bool("verify", false, "re-detect after remediation")
		format     = flag.String("format", "json", "report format: json or pdf")
		days       = flag.Int("days", 30, "report window in days")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Initialize(cfg.Logging)
	log := logger.New("main")

	app, err := buildApp(cfg)
	if err != nil {
		log.Fatal("startup failed", logger.Error(err))
	}
	defer app.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	switch command {
	case "serve":
		err = app.serve(ctx, cfg)
	case "scan":
		err = app.runScan(ctx, flag.Arg(1), *actor, *controlIDs)
	case "score":
		err = app.runScore(ctx, flag.Arg(1))
	case "findings":
		err = app.runFindings(ctx, flag.Arg(1))
	case "remediate":
		err = app.runRemediate(ctx, flag.Arg(1), *actor, *dryRun, *verify)
	case "rollback":
		err = app.runRollback(ctx, flag.Arg(1), *actor)
	case "report":
		err = app.runReport(ctx, flag.Arg(1), *actor, *format, *days)
	case "verify-audit":
		err = app.runVerifyAudit(ctx, flag.Arg(1))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", logger.String("command", command), logger.Error(err))
		os.Exit(1)
	}
}

type app struct {
	store   *store.Store
	service *service.Service
	log     logger.Logger
}

func buildApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	catalog := controls.NewCatalog()
	controlsaws.Register(catalog)
	catalog.Freeze()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.SeedControls(ctx, catalogRows(catalog)); err != nil {
		st.Close()
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		st.Close()
		return nil, err
	}
	objects := evidence.NewS3Store(awsCfg, cfg.Evidence.Bucket)

	auditor := audit.NewWriter()
	factory := &cloudaws.Factory{DefaultRegion: cfg.Region}
	det := detection.NewEngine(st, auditor, catalog, factory, cfg.Scanning)
	rem := remediation.NewEngine(st, auditor, catalog, factory, objects, cfg.Scanning)
	reports := report.NewBuilder(st, auditor, objects, cfg.Evidence.URLValidity)

	return &app{
		store:   st,
		service: service.New(st, auditor, catalog, det, rem, reports),
		log:     logger.New("app"),
	}, nil
}

func catalogRows(catalog *controls.Catalog) []store.ControlRow {
	all := catalog.All()
	rows := make([]store.ControlRow, 0, len(all))
	for _, c := range all {
		rows = append(rows, store.ControlRow{
			ControlID:        c.ControlID,
			Title:            c.Title,
			Description:      c.Description,
			Severity:         c.Severity,
			Category:         c.Category,
			Provider:         c.Provider,
			Frameworks:       c.Frameworks,
			CanAutoRemediate: c.CanAutoRemediate,
			RemediationRisk:  c.RemediationRisk,
		})
	}
	return rows
}

// serve runs the long-lived process: the metrics endpoint and the audit
// retention prune loop.
func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	server := &http.Server{Addr: ":9090", Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("metrics listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", logger.Error(err))
		}
	}()

	ticker := time.NewTicker(cfg.Audit.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			if _, err := a.service.PruneAuditLog(ctx, cfg.Audit.RetentionDays); err != nil {
				a.log.Error("audit prune failed", logger.Error(err))
			}
		}
	}
}

func (a *app) runScan(ctx context.Context, accountID, actor, controlList string) error {
	var controlIDs []string
	if controlList != "" {
		for _, id := range strings.Split(controlList, ",") {
			if id = strings.TrimSpace(id); id != "" {
				controlIDs = append(controlIDs, id)
			}
		}
	}
	result, err := a.service.StartScan(ctx, accountID, actor, controlIDs)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) runScore(ctx context.Context, target string) error {
	filter := models.FindingFilter{AccountID: target}
	if len(target) > 4 && target[:4] == "org:" {
		filter = models.FindingFilter{OrganizationID: target[4:]}
	}
	score, err := a.service.GetComplianceScore(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(score)
}

func (a *app) runFindings(ctx context.Context, accountID string) error {
	findings, err := a.service.ListFindings(ctx, models.FindingFilter{AccountID: accountID})
	if err != nil {
		return err
	}
	return printJSON(findings)
}

func (a *app) runRemediate(ctx context.Context, findingID, actor string, dryRun, verify bool) error {
	result, err := a.service.Remediate(ctx, remediation.Request{
		FindingID:  findingID,
		ApprovedBy: actor,
		DryRun:     dryRun,
		Verify:     verify,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) runRollback(ctx context.Context, findingID, actor string) error {
	result, err := a.service.Rollback(ctx, findingID, actor)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *app) runReport(ctx context.Context, orgID, actor, format string, days int) error {
	now := time.Now().UTC()
	result, err := a.service.ExportReport(ctx, report.ExportRequest{
		OrganizationID: orgID,
		From:           now.AddDate(0, 0, -days),
		To:             now,
		Format:         report.Format(format),
		Actor:          actor,
	})
	if err != nil {
		return err
	}
	if result.Degraded {
		fmt.Fprintln(os.Stderr, "Warning: object storage unavailable, artifact returned inline")
	}
	// Inline artifacts would bloat the JSON output; report only the size.
	size := len(result.Artifact)
	result.Artifact = nil
	if err := printJSON(result); err != nil {
		return err
	}
	if size > 0 {
		fmt.Fprintf(os.Stderr, "Inline artifact: %d bytes\n", size)
	}
	return nil
}

func (a *app) runVerifyAudit(ctx context.Context, orgID string) error {
	result, err := a.service.VerifyAuditChain(ctx, orgID)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("audit chain broken at entry %d: %s", result.BrokenAtID, result.Reason)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
