package store

import (
	"context"
	"testing"

	"github.com/dunamismax/artify/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestUsageSchemaKeysOnRowID(t *testing.T) {
	assert.Contains(t, usageSchemaSQL, "id TEXT PRIMARY KEY")
	assert.Contains(t, usageSchemaSQL, "request_id TEXT NOT NULL,")
	assert.NotContains(t, usageSchemaSQL, "request_id TEXT PRIMARY KEY")
}

func TestPostgresCreateUsageLogRequiresID(t *testing.T) {
	s := &PostgresUsageStore{}
	err := s.CreateUsageLog(context.Background(), domain.UsageLog{RequestID: "replayed"})
	assert.ErrorContains(t, err, "usage log id is required")
}
