package gc

import (
	"testing"

	"go.od2.network/queues/cmd/providers"
	"go.od2.network/queues/cmd/providers/providerstest"
	"go.uber.org/fx"
)

func TestApp(t *testing.T) {
	providerstest.Validate(t, fx.Invoke(providers.ServeMetrics, Run))
}
