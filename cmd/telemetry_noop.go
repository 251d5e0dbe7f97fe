//go:build !otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/dectpair/internal/config"
)

// initTelemetry is a no-op when built without the "otel" tag.
// Build with `go build -tags otel` to enable OpenTelemetry export.
func initTelemetry(_ context.Context, _ *config.Config) func() {
	slog.Debug("telemetry enabled in config but binary built without -tags otel")
	return func() {}
}
