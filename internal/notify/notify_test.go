package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/airquality-dashboard/internal/alerts"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

var testNow = time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
	// failChannel, when set, rejects messages for that channel only.
	failChannel string
}

func (p *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.failChannel != "" && msg.Channel == p.failChannel {
		return errors.New("channel " + msg.Channel + " unavailable")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Name() string { return "recording" }
func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type staticSettings struct{ n store.Notifications }

func (s staticSettings) Snapshot() store.SettingsState {
	st := store.DefaultSettings()
	st.Notifications = s.n
	return st
}

func testSnapshot(aqis ...int) service.DashboardSnapshot {
	loc := store.SavedLocation{ID: "loc_1", Name: "San Francisco", CustomName: "Home", Lat: 37.77, Lon: -122.42}
	var as []alerts.Alert
	for _, v := range aqis {
		ts := testNow
		as = append(as, alerts.Alert{ID: "id", Kind: alerts.KindCurrent, Severity: alerts.SeverityHigh, AQIValue: v, SourceTimestamp: &ts})
	}
	return service.DashboardSnapshot{Location: &loc, Alerts: as, Threshold: 100}
}

func newTestDispatcher(p Publisher, n store.Notifications) *Dispatcher {
	d := NewDispatcher(p, staticSettings{n: n}, zap.NewNop())
	d.now = func() time.Time { return testNow }
	return d
}

// TestNewMessage verifies that a message carries the alert and the location's display name.
func TestNewMessage(t *testing.T) {
	s := testSnapshot(160)
	msg := NewMessage(s.Alerts[0], *s.Location, "email", testNow)
	if msg.LocationName != "Home" || msg.LocationID != "loc_1" || msg.Channel != "email" || msg.AQI != 160 {
		t.Errorf("NewMessage() = %+v", msg)
	}
}

// TestDispatcher_PublishesPerChannel verifies one message per alert and enabled channel.
func TestDispatcher_PublishesPerChannel(t *testing.T) {
	tests := []struct {
		name string
		n    store.Notifications
		want int
	}{
		{name: "push only", n: store.Notifications{Push: true}, want: 2},
		{name: "all channels", n: store.Notifications{Push: true, Email: true, SMS: true}, want: 6},
		{name: "none enabled", n: store.Notifications{}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPublisher{}
			d := newTestDispatcher(p, tt.n)
			if err := d.Dispatch(context.Background(), testSnapshot(120, 160)); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if got := p.count(); got != tt.want {
				t.Errorf("published = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestDispatcher_DeduplicatesByFingerprint verifies that a re-derived alert with a new random
// id is not republished, while a changed condition is.
func TestDispatcher_DeduplicatesByFingerprint(t *testing.T) {
	p := &recordingPublisher{}
	d := newTestDispatcher(p, store.Notifications{Push: true})

	first := testSnapshot(160)
	if err := d.Dispatch(context.Background(), first); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	again := testSnapshot(160)
	again.Alerts[0].ID = "other-random-id"
	if err := d.Dispatch(context.Background(), again); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := p.count(); got != 1 {
		t.Fatalf("published = %d after re-derivation, want 1", got)
	}

	if err := d.Dispatch(context.Background(), testSnapshot(175)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := p.count(); got != 2 {
		t.Errorf("published = %d after AQI change, want 2", got)
	}

	// Past retention the same condition may be announced again.
	d.now = func() time.Time { return testNow.Add(fingerprintRetention + time.Minute) }
	if err := d.Dispatch(context.Background(), testSnapshot(160)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := p.count(); got != 3 {
		t.Errorf("published = %d after retention, want 3", got)
	}
}

// TestDispatcher_FailureRetriesNextSnapshot verifies that a failed alert is not marked dispatched.
func TestDispatcher_FailureRetriesNextSnapshot(t *testing.T) {
	p := &recordingPublisher{err: errors.New("broker down")}
	d := newTestDispatcher(p, store.Notifications{Push: true})

	if err := d.Dispatch(context.Background(), testSnapshot(160)); err == nil {
		t.Fatal("Dispatch() error = nil, want publish failure")
	}
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	if err := d.Dispatch(context.Background(), testSnapshot(160)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := p.count(); got != 1 {
		t.Errorf("published = %d, want 1 on retry", got)
	}
}

// TestDispatcher_PartialFailureRetriesFailedChannelOnly verifies that a channel which accepted
// an alert is not sent it again when another channel's failure is retried.
func TestDispatcher_PartialFailureRetriesFailedChannelOnly(t *testing.T) {
	p := &recordingPublisher{failChannel: "email"}
	d := newTestDispatcher(p, store.Notifications{Push: true, Email: true})

	if err := d.Dispatch(context.Background(), testSnapshot(160)); err == nil {
		t.Fatal("Dispatch() error = nil, want email failure")
	}
	p.mu.Lock()
	p.failChannel = ""
	p.mu.Unlock()
	if err := d.Dispatch(context.Background(), testSnapshot(160)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := d.Dispatch(context.Background(), testSnapshot(160)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	perChannel := map[string]int{}
	for _, m := range p.msgs {
		perChannel[m.Channel]++
	}
	if perChannel["push"] != 1 || perChannel["email"] != 1 {
		t.Errorf("deliveries per channel = %v, want push:1 email:1", perChannel)
	}
}

// TestDispatcher_IgnoresEmpty verifies that snapshots without a location or alerts publish nothing.
func TestDispatcher_IgnoresEmpty(t *testing.T) {
	p := &recordingPublisher{}
	d := newTestDispatcher(p, store.Notifications{Push: true})
	s := testSnapshot(160)
	s.Location = nil
	if err := d.Dispatch(context.Background(), s); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := d.Dispatch(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if p.count() != 0 {
		t.Errorf("published = %d, want 0", p.count())
	}
}

type highFetcher struct{}

func (highFetcher) GetCurrent(ctx context.Context, at models.Coordinates, name string) (models.Current, error) {
	return models.Current{AQI: 180, Timestamp: testNow}, nil
}

func (highFetcher) GetForecast(ctx context.Context, at models.Coordinates, hours int) (models.Forecast, error) {
	return models.Forecast{}, nil
}

// TestDispatcher_AttachRun verifies the path from a dashboard load to a published notification.
func TestDispatcher_AttachRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	locs := store.NewLocations(ctx, nil, zap.NewNop())
	settings := store.NewSettings(ctx, nil, zap.NewNop())
	dash := service.NewDashboard(highFetcher{}, locs, settings, service.DashboardOptions{})

	p := &recordingPublisher{}
	d := NewDispatcher(p, settings, zap.NewNop())
	unsubscribe := d.Attach(dash)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	dash.Start(ctx)
	dash.WaitIdle()
	defer dash.Stop()

	deadline := time.After(2 * time.Second)
	for p.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no notification published")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if p.msgs[0].Channel != "push" || p.msgs[0].Kind != alerts.KindCurrent {
		t.Errorf("message = %+v, want push current alert", p.msgs[0])
	}
}

// TestLogPublisher verifies that notifications are logged with their routing fields.
func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))
	s := testSnapshot(160)
	if err := p.Publish(context.Background(), NewMessage(s.Alerts[0], *s.Location, "push", testNow)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	entries := logs.FilterMessage("alert notification").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["channel"]; got != "push" {
		t.Errorf("channel field = %v, want push", got)
	}
	if p.Name() != BackendLog {
		t.Errorf("Name() = %q", p.Name())
	}
}

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

// TestKafkaPublisher verifies the message key, JSON value and routing headers.
func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisherWithWriter(w, DefaultKafkaTopic)
	s := testSnapshot(160)

	if err := p.Publish(context.Background(), NewMessage(s.Alerts[0], *s.Location, "sms", testNow)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "loc_1" {
		t.Errorf("key = %q, want loc_1", m.Key)
	}
	var decoded Message
	if err := json.Unmarshal(m.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.AQI != 160 || decoded.Channel != "sms" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(m.Headers) == 0 || m.Headers[0].Key != "channel" || string(m.Headers[0].Value) != "sms" {
		t.Errorf("headers = %+v", m.Headers)
	}

	w.err = errors.New("leader not available")
	if err := p.Publish(context.Background(), Message{}); err == nil {
		t.Error("Publish() error = nil, want writer error")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

// TestNewKafkaPublisher_Validation verifies that brokers are required and the topic defaults.
func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "t"); err == nil {
		t.Error("NewKafkaPublisher(nil) error = nil, want error")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "")
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error = %v", err)
	}
	defer p.Close()
	if p.topic != DefaultKafkaTopic {
		t.Errorf("topic = %q, want %q", p.topic, DefaultKafkaTopic)
	}
}

// doneToken is a completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// pendingToken never completes.
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

type fakeMQTTClient struct {
	topics       []string
	payloads     [][]byte
	token        mqtt.Token
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return c.token
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) { c.disconnected = true }

// TestMQTTPublisher verifies topic layout, payload and acknowledgement handling.
func TestMQTTPublisher(t *testing.T) {
	s := testSnapshot(160)
	msg := NewMessage(s.Alerts[0], *s.Location, "push", testNow)

	t.Run("acknowledged", func(t *testing.T) {
		c := &fakeMQTTClient{token: doneToken{}}
		p := newMQTTPublisherWithClient(c, "", 1)
		if err := p.Publish(context.Background(), msg); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if len(c.topics) != 1 || c.topics[0] != "airquality/alerts/loc_1/push" {
			t.Errorf("topics = %v", c.topics)
		}
		var decoded Message
		if err := json.Unmarshal(c.payloads[0], &decoded); err != nil || decoded.AQI != 160 {
			t.Errorf("payload = %s (%v)", c.payloads[0], err)
		}
		if err := p.Close(); err != nil || !c.disconnected {
			t.Errorf("Close() = %v, disconnected = %v", err, c.disconnected)
		}
	})

	t.Run("broker error", func(t *testing.T) {
		c := &fakeMQTTClient{token: doneToken{err: errors.New("not authorized")}}
		p := newMQTTPublisherWithClient(c, "/custom/", 0)
		if err := p.Publish(context.Background(), msg); err == nil {
			t.Error("Publish() error = nil, want broker error")
		}
		if c.topics[0] != "custom/loc_1/push" {
			t.Errorf("topic = %q, want custom prefix", c.topics[0])
		}
	})

	t.Run("context ends first", func(t *testing.T) {
		c := &fakeMQTTClient{token: pendingToken{}}
		p := newMQTTPublisherWithClient(c, "", 1)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := p.Publish(ctx, msg); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Publish() error = %v, want deadline exceeded", err)
		}
	})
}

// TestNewMQTTPublisher_RequiresBroker verifies option validation before connecting.
func TestNewMQTTPublisher_RequiresBroker(t *testing.T) {
	if _, err := NewMQTTPublisher(MQTTOptions{}, nil); err == nil {
		t.Error("NewMQTTPublisher() error = nil, want error")
	}
}
