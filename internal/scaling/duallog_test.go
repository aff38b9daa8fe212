package scaling

import (
	"context"
	"errors"
	"testing"

	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type panickingLogStore struct{}

func (panickingLogStore) WriteExecutionLog(ctx context.Context, l *models.RuleExecutionLog) error {
	panic("boom")
}

func TestDualLogger_WritesBothStores(t *testing.T) {
	records := storage.NewInMemoryLogStore()
	metricsStore := storage.NewInMemoryLogStore()
	d := NewDualLogger(records, metricsStore, zap.NewNop(), nil)

	d.Record(context.Background(), &models.RuleExecutionLog{ID: "l1", RuleID: "r1", Status: models.ExecutionSuccess})

	assert.Len(t, records.All(), 1)
	assert.Len(t, metricsStore.All(), 1)
}

func TestDualLogger_MetricsFailureIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	records := storage.NewInMemoryLogStore()
	d := NewDualLogger(records, failingLogStore{errors.New("clickhouse down")}, zap.New(core), nil)

	d.Record(context.Background(), &models.RuleExecutionLog{ID: "l1", RuleID: "r1"})

	assert.Len(t, records.All(), 1)
	entries := logs.FilterMessage("failed to write execution log").All()
	if assert.Len(t, entries, 1) {
		assert.Contains(t, entries[0].ContextMap()["error"], "metrics log store: clickhouse down")
	}
}

func TestDualLogger_BothFailuresAreCombined(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	d := NewDualLogger(failingLogStore{errors.New("pg down")}, panickingLogStore{}, zap.New(core), nil)

	d.Record(context.Background(), &models.RuleExecutionLog{ID: "l1", RuleID: "r1"})

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		msg := entries[0].ContextMap()["error"]
		assert.Contains(t, msg, "record store: pg down")
		assert.Contains(t, msg, "metrics log store: panic: boom")
	}
}

func TestDualLogger_WritesAfterCancel(t *testing.T) {
	records := storage.NewInMemoryLogStore()
	d := NewDualLogger(records, nil, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Record(ctx, &models.RuleExecutionLog{ID: "l1", RuleID: "r1"})

	assert.Len(t, records.All(), 1)
}
