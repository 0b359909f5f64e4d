package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promtior/sitechat/engine/domain"
	"github.com/promtior/sitechat/pkg/config"
)

// Open connects to the backend named by ic.Backend.
func Open(ctx context.Context, ic config.IndexConfig, logger *slog.Logger) (Store, error) {
	switch ic.Backend {
	case config.BackendFile:
		return OpenFileStore(ic.Dir, ic.Collection)
	case config.BackendQdrant:
		return NewQdrant(ic.QdrantURL, ic.Collection, logger)
	case config.BackendPGVector:
		return OpenPostgres(ctx, ic.PostgresDSN, ic.Collection)
	}
	return nil, domain.NewConfigError("INDEX_BACKEND", fmt.Sprintf("unknown backend %q", ic.Backend))
}

// Reloader is implemented by stores that cache a snapshot in memory and can
// pick up a rebuild made by another process.
type Reloader interface {
	Reload() error
}
