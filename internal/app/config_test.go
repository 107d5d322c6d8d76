package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "asynq", cfg.AccountingBus)
	require.Equal(t, "hard", cfg.ReservationStrictness)
	require.Equal(t, 5*time.Second, cfg.LockTimeout)
	require.Equal(t, 3, cfg.TxAttempts)
	require.Equal(t, 720*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.IsProduction())

	tol, err := cfg.Tolerance()
	require.NoError(t, err)
	require.True(t, tol.Equal(decimal.RequireFromString("0.0005")))
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ACCOUNTING_BUS", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RESERVATION_STRICTNESS", "soft")
	t.Setenv("MAKER_CHECKER", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.MakerChecker)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key, value string
	}{
		"tolerance not a number": {"LEDGER_TOLERANCE", "abc"},
		"negative tolerance":     {"LEDGER_TOLERANCE", "-0.1"},
		"strictness":             {"RESERVATION_STRICTNESS", "strict"},
		"bus":                    {"ACCOUNTING_BUS", "nats"},
		"attempts":               {"TX_MAX_ATTEMPTS", "0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
	require.Equal(t, slog.LevelWarn, parseLevel(&Config{LogLevel: "warning"}))
	require.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "verbose"}))
}
