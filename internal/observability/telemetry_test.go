package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replay/internal/config"
	"github.com/annel0/mmo-replay/internal/logging"
)

func TestInitTelemetry(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriterLogger("otel", &buf, logging.DEBUG)

	t.Run("выключено", func(t *testing.T) {
		shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{}, log)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "выключен")
	})

	t.Run("включено", func(t *testing.T) {
		// экспортер не подключается до первой отправки
		cfg := config.TelemetryConfig{Enabled: true, ServiceName: "replay-test", Endpoint: "127.0.0.1:1"}
		shutdown, err := InitTelemetry(context.Background(), cfg, log)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "service=replay-test")
		_ = shutdown(context.Background())
	})
}
