package scaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/models"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DualLogger writes each execution log to the record store and the metrics
// log store independently.
type DualLogger struct {
	record  storage.ExecutionLogWriter
	metrics storage.ExecutionLogWriter
	logger  *zap.Logger
	m       *metrics.Metrics
}

// NewDualLogger builds a DualLogger. Either store may be nil.
func NewDualLogger(record, metricsStore storage.ExecutionLogWriter, logger *zap.Logger, m *metrics.Metrics) *DualLogger {
	return &DualLogger{record: record, metrics: metricsStore, logger: logger, m: m}
}

// Record writes l to both stores concurrently and waits for both. Failures
// are logged and never returned. The log is written even if ctx is cancelled.
func (d *DualLogger) Record(ctx context.Context, l *models.RuleExecutionLog) {
	ctx = context.WithoutCancel(ctx)

	var (
		wg                   sync.WaitGroup
		recordErr, metricErr error
	)
	write := func(w storage.ExecutionLogWriter, out *error) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				*out = fmt.Errorf("panic: %v", r)
			}
		}()
		if err := w.WriteExecutionLog(ctx, l); err != nil {
			*out = err
		}
	}

	if d.record != nil {
		wg.Add(1)
		go write(d.record, &recordErr)
	}
	if d.metrics != nil {
		wg.Add(1)
		go write(d.metrics, &metricErr)
	}
	wg.Wait()

	if recordErr != nil {
		d.m.RecordLogWriteFailure("record")
	}
	if metricErr != nil {
		d.m.RecordLogWriteFailure("metrics")
	}

	if err := multierr.Combine(
		wrapStore("record store", recordErr),
		wrapStore("metrics log store", metricErr),
	); err != nil {
		d.logger.Error("failed to write execution log",
			zap.String("log_id", l.ID),
			zap.String("rule_id", l.RuleID),
			zap.Error(err),
		)
	}
}

func wrapStore(store string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", store, err)
}
