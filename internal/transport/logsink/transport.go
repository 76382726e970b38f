// Package logsink delivers alert batches to the structured log.
package logsink

import (
	"context"

	"go.uber.org/zap"
)

// Transport writes each batch as one info entry.
type Transport struct {
	logger *zap.Logger
}

// New returns a Transport logging through logger.
func New(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{logger: logger.Named("alert")}
}

// Send logs the batch and never fails.
func (t *Transport) Send(_ context.Context, title, body string) error {
	t.logger.Info(title, zap.String("body", body))
	return nil
}
