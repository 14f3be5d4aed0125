package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tujanalyst/tujanalyst/internal/config"
	"github.com/tujanalyst/tujanalyst/internal/metrics"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/storage"
)

// ErrAllChannelsFailed is returned when every attempted channel failed.
var ErrAllChannelsFailed = errors.New("all delivery channels failed")

// Channel sends a report to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, report *models.AnalysisReport) error
}

// Deliverer fans a report out to every configured channel and records the
// outcome on the stored report.
type Deliverer struct {
	channels []Channel
	reports  storage.ReportRepository
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeliverer creates a deliverer over channels.
func NewDeliverer(reports storage.ReportRepository, logger *slog.Logger, m *metrics.Collector, channels ...Channel) *Deliverer {
	return &Deliverer{
		channels: channels,
		reports:  reports,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// FromConfig builds the channels enabled in cfg.
func FromConfig(cfg config.DeliveryConfig, client *http.Client) ([]Channel, error) {
	var channels []Channel
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewSlackChannel(cfg.SlackWebhookURL, client))
	}
	if cfg.TelegramToken != "" {
		tg, err := NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	return channels, nil
}

// Reports exposes the repository delivery outcomes are written to.
func (d *Deliverer) Reports() storage.ReportRepository {
	return d.reports
}

// Deliver sends report through every channel and returns the names of those
// that accepted it. With no channels configured it returns nothing and the
// report stays generated. It fails only when every attempted channel failed.
func (d *Deliverer) Deliver(ctx context.Context, report *models.AnalysisReport) ([]string, error) {
	if len(d.channels) == 0 {
		d.logger.Info("no delivery channels configured", "report_id", report.ReportID)
		return nil, nil
	}

	var delivered []string
	var failures []string
	for _, ch := range d.channels {
		if err := ch.Send(ctx, report); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ch.Name(), err))
			d.logger.Warn("report delivery failed", "report_id", report.ReportID, "channel", ch.Name(), "error", err)
			continue
		}
		delivered = append(delivered, ch.Name())
	}

	if len(delivered) == 0 {
		d.metrics.DeliveryFailed()
		report.MarkDeliveryFailed()
		if err := d.reports.SaveReport(ctx, report); err != nil {
			d.logger.Error("failed to record delivery failure", "report_id", report.ReportID, "error", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrAllChannelsFailed, strings.Join(failures, "; "))
	}

	report.MarkDelivered(delivered, d.now())
	if err := d.reports.SaveReport(ctx, report); err != nil {
		d.logger.Error("failed to record delivery", "report_id", report.ReportID, "error", err)
	}
	d.logger.Info("report delivered", "report_id", report.ReportID, "channels", delivered)
	return delivered, nil
}
