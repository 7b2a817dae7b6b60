package store

import (
	"context"

	"github.com/dunamismax/artify/internal/domain"
)

// UsageStore records one audit row per stylize request. Image bytes are
// never persisted.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
