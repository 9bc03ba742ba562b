// Package alert fans operational alerts out to configured channels
package alert

import (
	"context"
	"time"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/pkg/concurrency"
)

// Channel delivers one alert to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, title, message, level string, fields map[string]string) error
}

// Manager implements core.IAlertSink. Delivery runs on a bounded worker pool
// so a slow webhook can never stall the caller; a full pool drops the alert
// with a log line.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
}

// NewManager builds a manager from the alert configuration. With no channels
// configured it degrades to log-only.
func NewManager(cfg config.AlertsConfig, logger core.ILogger) *Manager {
	m := &Manager{
		logger: logger.WithField("component", "alert_manager"),
	}
	if cfg.SlackWebhookURL != "" {
		m.channels = append(m.channels, NewSlackChannel(cfg.SlackWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		m.channels = append(m.channels, NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	m.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  2,
		MaxCapacity: 64,
		NonBlocking: true,
	}, logger)
	return m
}

// Alert implements core.IAlertSink
func (m *Manager) Alert(ctx context.Context, title, message, level string, fields map[string]string) {
	m.logger.Warn("ALERT", "title", title, "message", message, "level", level)

	for _, ch := range m.channels {
		ch := ch
		err := m.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ch.Send(sendCtx, title, message, level, fields); err != nil {
				m.logger.Error("Alert delivery failed", "channel", ch.Name(), "error", err)
			}
		})
		if err != nil {
			m.logger.Error("Alert queue full, dropping", "channel", ch.Name(), "title", title)
		}
	}
}

// Stop drains the delivery pool
func (m *Manager) Stop() {
	m.pool.Stop()
}
