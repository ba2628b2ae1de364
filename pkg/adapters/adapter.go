package adapters

import (
	"context"

	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/qso"
)

// Adapter is the one interface the orchestrator sees. Each service variant
// implements the same fetch contract; Upload is only called when
// UploadCapable reports true.
//
// Failure mapping is uniform across variants: session problems surface as
// *syncerrors.AuthenticationError, malformed input as *ValidationError with
// the service's message verbatim, network/timeout as *TransportError, and a
// known downtime window as *MaintenanceError. Adapters never retry beyond
// their own bounded re-auth, and never touch the store.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, cursor int64) (models.FetchResult, error)
	UploadCapable() bool
	Upload(ctx context.Context, records []qso.Record) (models.AcceptanceResult, error)
}
