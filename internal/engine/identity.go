package engine

import (
	"context"

	"github.com/dunamismax/artify/internal/domain"
)

// Identity returns the content batch untouched. It stands in for a real model
// in development and tests.
type Identity struct{}

func (Identity) Name() string { return KindIdentity }

func (Identity) Close() error { return nil }

func (Identity) Stylize(ctx context.Context, content, _ domain.Batch) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}
	if err := checkOutput(content); err != nil {
		return domain.Batch{}, err
	}

	out := content
	out.Data = append([]float32(nil), content.Data...)
	return out, nil
}
