package runner

import (
	"log/slog"

	"github.com/shaiso/Migrata/internal/domain"
	"github.com/shaiso/Migrata/internal/telemetry"
)

// Notifier — подписчик на события выполнения миграций.
//
// События: started (Scheduler забрал запись), run (шаг выполнен),
// completed (работа закончена), throttled (шаг отложен). Каждое несёт
// ссылку на запись.
type Notifier interface {
	Started(m *domain.Migration)
	StepRun(m *domain.Migration)
	Completed(m *domain.Migration)
	Throttled(m *domain.Migration)
}

// LogNotifier — Notifier по умолчанию: structured-лог + метрики.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Started(m *domain.Migration) {
	n.logger.Info("migration started",
		"migration_id", m.ID,
		"name", m.Name,
		"kind", m.Kind,
		"shard", m.Shard,
	)
}

func (n *LogNotifier) StepRun(m *domain.Migration) {
	telemetry.StepsTotal.WithLabelValues(string(m.Kind)).Inc()

	n.logger.Debug("migration step run",
		"migration_id", m.ID,
		"name", m.Name,
		"tick_count", m.TickCount,
	)
}

func (n *LogNotifier) Completed(m *domain.Migration) {
	telemetry.StepsTotal.WithLabelValues(string(m.Kind)).Inc()

	n.logger.Info("migration completed",
		"migration_id", m.ID,
		"name", m.Name,
		"kind", m.Kind,
		"tick_count", m.TickCount,
		"time_running", m.TimeRunning,
	)
}

func (n *LogNotifier) Throttled(m *domain.Migration) {
	telemetry.ThrottledTotal.Inc()

	n.logger.Info("migration throttled",
		"migration_id", m.ID,
		"name", m.Name,
	)
}
