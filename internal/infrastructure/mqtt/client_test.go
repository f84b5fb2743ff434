package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "mqttdbus-test",
		},
		QoS:       1,
		KeepAlive: 60,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors), len(l.warns)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"
	cfg.KeepAlive = 30

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "mqttdbus-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect not enabled")
	}
	if !opts.Order || !opts.CleanSession {
		t.Errorf("Order = %v, CleanSession = %v; want ordered delivery on a clean session", opts.Order, opts.CleanSession)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestKeepAlive(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{60, 60 * time.Second},
		{15, 15 * time.Second},
		{0, defaultKeepAlive},
		{-1, defaultKeepAlive},
	}

	for _, tt := range tests {
		cfg := testConfig()
		cfg.KeepAlive = tt.seconds
		if got := keepAlive(cfg); got != tt.want {
			t.Errorf("keepAlive(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "bridge-1")

	if opts.WillTopic != "mqttdbus/bridge-1/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled:%v retained:%v qos:%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}

	var payload Status
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload.Status != StatusOffline || payload.Reason != ReasonUnexpectedDisconnect || payload.ClientID != "bridge-1" {
		t.Errorf("will payload = %+v", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", string(statusPayload("bridge-1", StatusOnline, "")), "online", ""},
		{"offline", string(statusPayload("bridge-1", StatusOffline, ReasonGracefulShutdown)), "offline", "graceful_shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &got); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if got["status"] != tt.wantStatus || got["reason"] != tt.wantReason {
				t.Errorf("payload = %v", got)
			}
			if got["client_id"] != "bridge-1" {
				t.Errorf("client_id = %q", got["client_id"])
			}
			if _, err := time.Parse(time.RFC3339, got["timestamp"]); err != nil {
				t.Errorf("timestamp %q: %v", got["timestamp"], err)
			}
		})
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestStatusTopic(t *testing.T) {
	if got := StatusTopic("mqtt-dbus-bridge"); got != "mqttdbus/mqtt-dbus-bridge/status" {
		t.Errorf("StatusTopic() = %q", got)
	}
}

func TestIsWildcard(t *testing.T) {
	tests := map[string]bool{
		"ESS/Enphase/production": false,
		"ESS/+/production":       true,
		"ESS/#":                  true,
		"":                       false,
	}
	for topic, want := range tests {
		if got := IsWildcard(topic); got != want {
			t.Errorf("IsWildcard(%q) = %v, want %v", topic, got, want)
		}
	}
}

// =============================================================================
// Disconnected Client Tests
// =============================================================================

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestStats_Disconnected(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}
	stats := client.Stats()
	if stats.Connected || stats.Received != 0 || !stats.LastMessage.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	client := &Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestValidation_BeforeConnectionCheck(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"publish empty topic", func() error { return client.Publish("", nil, 0, false) }, ErrInvalidTopic},
		{"publish bad qos", func() error { return client.Publish("t", nil, 3, false) }, ErrInvalidQoS},
		{"publish too large", func() error { return client.Publish("t", make([]byte, maxPayloadSize+1), 0, false) }, ErrPublishFailed},
		{"publish disconnected", func() error { return client.Publish("t", []byte("1"), 0, false) }, ErrNotConnected},
		{"subscribe empty topic", func() error { return client.Subscribe("", 0, handler) }, ErrInvalidTopic},
		{"subscribe bad qos", func() error { return client.Subscribe("t", 3, handler) }, ErrInvalidQoS},
		{"subscribe nil handler", func() error { return client.Subscribe("t", 0, nil) }, ErrSubscribeFailed},
		{"subscribe disconnected", func() error { return client.Subscribe("t", 0, handler) }, ErrNotConnected},
		{"unsubscribe empty topic", func() error { return client.Unsubscribe("") }, ErrInvalidTopic},
		{"unsubscribe disconnected", func() error { return client.Unsubscribe("t") }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", client.SubscriptionCount())
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandler_DeliversMessage(t *testing.T) {
	client := &Client{}
	var gotTopic, gotPayload string

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	wrapped(nil, fakeMessage{topic: "ESS/Enphase/production", payload: []byte("1234.5")})

	if gotTopic != "ESS/Enphase/production" || gotPayload != "1234.5" {
		t.Errorf("handler got %q=%q", gotTopic, gotPayload)
	}

	stats := client.Stats()
	if stats.Received != 1 || stats.HandlerErrors != 0 || stats.LastMessage.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWrapHandler_LogsHandlerError(t *testing.T) {
	client := &Client{}
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		return errors.New("payload is not a number")
	})
	wrapped(nil, fakeMessage{topic: "ESS/Enphase/rmsVoltage", payload: []byte("not-a-number")})

	errs, warns := logger.counts()
	if errs != 0 || warns != 1 {
		t.Errorf("logged errors=%d warns=%d, want 0 and 1", errs, warns)
	}
	if !strings.Contains(logger.warns[0], "handler returned error") {
		t.Errorf("warn message = %q", logger.warns[0])
	}
	if client.Stats().HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", client.Stats().HandlerErrors)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	client := &Client{}
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "t", payload: nil})

	if errs, _ := logger.counts(); errs != 1 {
		t.Errorf("logged errors = %d, want 1", errs)
	}
	if client.Stats().HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", client.Stats().HandlerErrors)
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	client := &Client{}

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	// Must not panic without a logger.
	wrapped(nil, fakeMessage{topic: "t"})
}

func TestSetLogger(t *testing.T) {
	client := &Client{}
	client.SetLogger(&mockLogger{})
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}
	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// =============================================================================
// Token Tests
// =============================================================================

// fakeToken implements pahomqtt.Token.
type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) Wait() bool                     { return t.done }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}
func (t fakeToken) Error() error { return t.err }

func TestWait(t *testing.T) {
	brokerErr := errors.New("not authorized")

	tests := []struct {
		name    string
		token   fakeToken
		wantErr bool
		wantMsg string
	}{
		{"completed", fakeToken{done: true}, false, ""},
		{"timed out", fakeToken{done: false}, true, "timeout after 5s"},
		{"broker error", fakeToken{done: true, err: brokerErr}, true, "not authorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wait(tt.token, tokenTimeout, ErrSubscribeFailed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wait() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrSubscribeFailed) {
				t.Errorf("wait() error = %v, want ErrSubscribeFailed", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("wait() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}

	if err := wait(fakeToken{done: true, err: brokerErr}, tokenTimeout, ErrSubscribeFailed); !errors.Is(err, brokerErr) {
		t.Errorf("wait() should keep the broker error in the chain, got %v", err)
	}
}
