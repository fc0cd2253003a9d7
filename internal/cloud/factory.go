package cloud

import (
	"context"

	"github.com/catherinevee/compliancemgr/internal/models"
)

// Factory constructs an adapter bound to one account's credentials.
// Each scan owns the adapter it gets; adapters are never shared across scans.
type Factory interface {
	New(ctx context.Context, account *models.CloudAccount) (Adapter, error)
}
