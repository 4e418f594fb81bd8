// Package providerstest checks that command dependency graphs resolve.
package providerstest

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"go.od2.network/queues/cmd/providers"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap/zaptest"
)

// Validate checks that all dependencies of opts can be constructed, without constructing them.
// The command-level values supplied by providers.NewApp and providers.NewCmd are stubbed.
func Validate(t *testing.T, opts ...fx.Option) {
	t.Helper()
	opts = append(opts,
		fx.Supply(
			zaptest.NewLogger(t),
			metric.Meter{},
			&cobra.Command{Use: t.Name()},
			[]string{},
		),
		fx.Logger(fxLogger{t}),
		fx.Provide(providers.Providers...))
	assert.NoError(t, fx.ValidateApp(opts...))
}

// ValidateInvokes runs Validate for each command handler separately.
func ValidateInvokes(t *testing.T, invokes ...interface{}) {
	t.Helper()
	for _, invoke := range invokes {
		Validate(t, fx.Invoke(invoke))
	}
}

type fxLogger struct {
	testing.TB
}

func (l fxLogger) Printf(format string, args ...interface{}) {
	l.Logf(format, args...)
}
