package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/reg-armada/pkg/common/logger"
)

func TestInitTelemetry_NoEndpointReturnsNoop(t *testing.T) {
	providers, teardown, err := InitTelemetry(logger.Noop(), Config{ServiceName: "regclient"})
	require.NoError(t, err)
	require.NotNil(t, teardown)

	ctx, span := providers.Tracer.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(ctx))

	teardown(context.Background())
}
