package notify

import (
	"go.uber.org/zap"

	"reminder-engine/internal/reminder"
)

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (l *LogSink) OnUpcoming(r reminder.Reminder, minutesLeft int) {
	l.logger.Info("reminder upcoming",
		zap.String("id", r.ID),
		zap.String("title", r.Title),
		zap.String("due", r.DueDate+" "+r.DueTime),
		zap.Int("minutes_left", minutesLeft),
	)
}

func (l *LogSink) OnDue(r reminder.Reminder) {
	l.logger.Info("reminder due",
		zap.String("id", r.ID),
		zap.String("title", r.Title),
		zap.String("due", r.DueDate+" "+r.DueTime),
	)
}
