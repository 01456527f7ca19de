// Package notify publishes derived alerts to notification backends.
//
// Backends hand messages to downstream delivery (a Kafka topic, an MQTT broker, or the log);
// they do not send push, email or SMS themselves. The channel travels with each message so
// consumers can route it.
package notify

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/alerts"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

// Backend names, used in config and metric labels.
const (
	BackendLog   = "log"
	BackendKafka = "kafka"
	BackendMQTT  = "mqtt"
)

// Message is one alert addressed to one notification channel.
type Message struct {
	AlertID         string          `json:"alertId"`
	Kind            alerts.Kind     `json:"kind"`
	Severity        alerts.Severity `json:"severity"`
	Title           string          `json:"title"`
	Message         string          `json:"message"`
	AQI             int             `json:"aqi"`
	SourceTimestamp *time.Time      `json:"sourceTimestamp,omitempty"`
	HoursUntil      *int            `json:"hoursUntil,omitempty"`
	LocationID      string          `json:"locationId"`
	LocationName    string          `json:"locationName"`
	Lat             float64         `json:"lat"`
	Lon             float64         `json:"lon"`
	Channel         string          `json:"channel"`
	SentAt          time.Time       `json:"sentAt"`
}

// NewMessage addresses alert a about loc to channel.
func NewMessage(a alerts.Alert, loc store.SavedLocation, channel string, sentAt time.Time) Message {
	return Message{
		AlertID:         a.ID,
		Kind:            a.Kind,
		Severity:        a.Severity,
		Title:           a.Title,
		Message:         a.Message,
		AQI:             a.AQIValue,
		SourceTimestamp: a.SourceTimestamp,
		HoursUntil:      a.HoursUntil,
		LocationID:      loc.ID,
		LocationName:    loc.DisplayName(),
		Lat:             loc.Lat,
		Lon:             loc.Lon,
		Channel:         channel,
		SentAt:          sentAt,
	}
}

// Publisher delivers messages to a backend.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	// Name is the backend label used in metrics.
	Name() string
	io.Closer
}

// LogPublisher writes messages to the structured log. It is the default backend.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher. A nil logger discards messages.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.Info("alert notification",
		zap.String("alert_id", msg.AlertID),
		zap.String("kind", string(msg.Kind)),
		zap.String("severity", string(msg.Severity)),
		zap.Int("aqi", msg.AQI),
		zap.String("location", msg.LocationName),
		zap.String("channel", msg.Channel),
		zap.String("message", msg.Message),
	)
	return nil
}

// Name implements Publisher.
func (p *LogPublisher) Name() string { return BackendLog }

// Close implements io.Closer.
func (p *LogPublisher) Close() error { return nil }
