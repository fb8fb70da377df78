package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "jaeger"})
	assert.Error(t, err)
}

func TestSetupZipkin(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Exporter: "zipkin", Endpoint: "http://127.0.0.1:1/api/v2/spans"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}
