// Package controls defines the compliance control catalog: what each control
// checks, how severe a failure is, and how (if at all) it can be fixed and
// unfixed automatically.
package controls

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// Descriptor is the static metadata of one control.
type Descriptor struct {
	ControlID   string
	Title       string
	Description string
	Severity    models.Severity
	Category    string
	Provider    models.Provider

	// Frameworks maps framework name to the requirement IDs this control
	// satisfies, e.g. "CIS-AWS" -> ["1.4"].
	Frameworks map[string][]string

	CanAutoRemediate bool
	RemediationRisk  models.RemediationRisk

	// ResourceKind is the collection the detect function evaluates.
	ResourceKind cloud.ResourceKind

	// OnAccessDenied and OnNotFound map adapter error classes to finding
	// statuses when listing fails. Zero values mean ERROR and FAIL.
	OnAccessDenied models.FindingStatus
	OnNotFound     models.FindingStatus
}

// Evaluation is one detect outcome for one resource.
type Evaluation struct {
	Status       models.FindingStatus
	ResourceID   string
	ResourceType string
	Details      map[string]interface{}
	Evidence     map[string]interface{}
}

// RemediationOutcome carries everything a successful fix must persist.
type RemediationOutcome struct {
	ResourceID   string
	BeforeState  map[string]interface{}
	AfterState   map[string]interface{}
	RollbackData map[string]interface{}
	Details      map[string]interface{}
}

// DetectFunc evaluates every resource of the control's kind.
type DetectFunc func(ctx context.Context, adapter cloud.Adapter) ([]Evaluation, error)

// RemediateFunc fixes one failed finding's resource. With dryRun set it
// performs no mutation and returns the projected after state and the
// rollback data a real run would record.
type RemediateFunc func(ctx context.Context, adapter cloud.Adapter, finding *models.Finding, dryRun bool) (*RemediationOutcome, error)

// RollbackFunc reverts a fix using the rollback data persisted by the
// matching RemediateFunc.
type RollbackFunc func(ctx context.Context, adapter cloud.Adapter, finding *models.Finding) error

// Control bundles a descriptor with its behavior.
type Control struct {
	Descriptor
	Detect    DetectFunc
	Remediate RemediateFunc
	Rollback  RollbackFunc
}

// CanRemediate reports whether the control supports automated remediation
func (c *Control) CanRemediate() bool {
	return c.CanAutoRemediate && c.Remediate != nil
}

// StatusForError maps an adapter listing failure to the finding status the
// control records for it.
func (c *Control) StatusForError(err error) models.FindingStatus {
	class, ok := cloud.ClassOf(err)
	if !ok {
		return models.StatusError
	}
	switch class {
	case cloud.ClassAccessDenied:
		if c.OnAccessDenied != "" {
			return c.OnAccessDenied
		}
		return models.StatusError
	case cloud.ClassNotFound:
		if c.OnNotFound != "" {
			return c.OnNotFound
		}
		return models.StatusFail
	default:
		return models.StatusError
	}
}

// Catalog is the registry of controls. Registration happens at startup;
// after Freeze the catalog is immutable and safe for concurrent reads.
type Catalog struct {
	mu       sync.RWMutex
	frozen   bool
	controls map[string]*Control
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{controls: make(map[string]*Control)}
}

// Register adds a control. Duplicate IDs and post-freeze registration panic
// because both are programming errors surfaced at startup.
func (c *Catalog) Register(control *Control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		panic("catalog is frozen")
	}
	if control.ControlID == "" || control.Detect == nil {
		panic(fmt.Sprintf("control %q is missing an ID or detect function", control.ControlID))
	}
	if _, exists := c.controls[control.ControlID]; exists {
		panic(fmt.Sprintf("control %q registered twice", control.ControlID))
	}
	c.controls[control.ControlID] = control
}

// Freeze makes the catalog immutable
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Get returns a control by ID
func (c *Catalog) Get(id string) (*Control, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	control, ok := c.controls[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("control not found").WithDetail("control_id", id)
	}
	return control, nil
}

// ByProvider returns controls for a provider, sorted by ID for deterministic
// scan ordering.
func (c *Catalog) ByProvider(provider models.Provider) []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Control
	for _, control := range c.controls {
		if control.Provider == provider {
			out = append(out, control)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out
}

// ByFramework returns a provider's controls mapped to the named framework,
// sorted by ID.
func (c *Catalog) ByFramework(provider models.Provider, framework string) []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Control
	for _, control := range c.controls {
		if control.Provider != provider {
			continue
		}
		if _, ok := control.Frameworks[framework]; ok {
			out = append(out, control)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out
}

// All returns every control sorted by ID
func (c *Catalog) All() []*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Control, 0, len(c.controls))
	for _, control := range c.controls {
		out = append(out, control)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out
}

// Len returns the number of registered controls
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.controls)
}
