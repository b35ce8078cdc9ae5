package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitTracer(t *testing.T) {
	tp, err := InitTracer("dashboardd-test", "test")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := otel.Tracer("test").Start(t.Context(), "op")
	span.End()

	ShutdownTracer(t.Context(), zap.NewNop())
}
