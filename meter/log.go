package meter

import (
	"log/slog"

	"github.com/ineyio/quotarelay"
)

// LogMeter logs relay events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ quotarelay.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRelayed(e quotarelay.RelayedEvent) {
	if e.Success {
		m.Logger.Info("relayed",
			"id", e.ID,
			"account", e.Account,
			"session", e.Session,
			"call", e.Call,
			"used", e.Used,
			"limit", e.Limit,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("relayed_error",
			"id", e.ID,
			"account", e.Account,
			"session", e.Session,
			"call", e.Call,
			"used", e.Used,
			"limit", e.Limit,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnDenied(e quotarelay.DeniedEvent) {
	m.Logger.Info("denied",
		"id", e.ID,
		"account", e.Account,
		"session", e.Session,
		"call", e.Call,
		"used", e.Used,
		"limit", e.Limit,
		"fee_weight", e.Fee.Weight,
	)
}
