package remote

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/infrastructure/mqtt"
	"github.com/forgerunner/forgerunner/internal/session"
)

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu        sync.Mutex
	messages  []published
	handlers  map[string]mqtt.MessageHandler
	unsubbed  []string
	published chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(chan struct{}, 64),
	}
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	f.messages = append(f.messages, published{topic, string(payload), qos, retained})
	f.mu.Unlock()
	f.published <- struct{}{}
	return nil
}

func (f *fakePublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	f.unsubbed = append(f.unsubbed, topic)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	commands []string
	called   chan string
}

func newFakeController() *fakeController {
	return &fakeController{called: make(chan string, 8)}
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	f.called <- "start"
	return nil
}

func (f *fakeController) RequestStop() (*session.StopRequest, error) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.called <- "stop"
	return nil, session.ErrNotRunning
}

func (f *fakeController) SendCommand(text string) error {
	f.mu.Lock()
	f.commands = append(f.commands, text)
	f.mu.Unlock()
	f.called <- "console"
	return nil
}

func runBridge(t *testing.T, b *Bridge, pub *fakePublisher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pub.handler(b.topics.AllCommands()) == nil {
		if time.Now().After(deadline) {
			t.Fatal("bridge did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return func() {
		cancel()
		<-done
	}
}

func waitPublished(t *testing.T, pub *fakePublisher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-pub.published:
		case <-time.After(2 * time.Second):
			t.Fatalf("waited for %d publishes, got %d", n, i)
		}
	}
}

func TestBridgePublishesSurfaceEvents(t *testing.T) {
	pub := newFakePublisher()
	b := New(pub, newFakeController(), mqtt.NewTopics("mc"), 1)
	stop := runBridge(t, b, pub)
	defer stop()

	b.StateChanged(session.StateRunning)
	b.EndpointChanged("play.example.net:25565")
	b.OutputLine("[Server thread/INFO]: Done (3.1s)!")
	b.Warning("world generation in progress")
	waitPublished(t, pub, 4)

	byTopic := make(map[string]published)
	for _, m := range pub.snapshot() {
		byTopic[m.topic] = m
	}
	for _, want := range []string{"mc/session/state", "mc/session/endpoint", "mc/session/console", "mc/session/alert"} {
		if _, ok := byTopic[want]; !ok {
			t.Errorf("nothing published on %q", want)
		}
	}

	stateMsg := byTopic["mc/session/state"]
	var state statePayload
	if err := json.Unmarshal([]byte(stateMsg.payload), &state); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if state.State != "running" {
		t.Errorf("state = %q, want running", state.State)
	}
	if !stateMsg.retained || !byTopic["mc/session/endpoint"].retained {
		t.Error("state and endpoint must be retained")
	}
	if stateMsg.qos != 1 {
		t.Errorf("state qos = %d, want 1", stateMsg.qos)
	}

	console := byTopic["mc/session/console"]
	if console.payload != "[Server thread/INFO]: Done (3.1s)!" {
		t.Errorf("console payload = %q", console.payload)
	}
	if console.qos != 0 || console.retained {
		t.Errorf("console qos/retained = %d/%v, want 0/false", console.qos, console.retained)
	}

	var alert alertPayload
	if err := json.Unmarshal([]byte(byTopic["mc/session/alert"].payload), &alert); err != nil {
		t.Fatalf("alert payload: %v", err)
	}
	if alert.Level != alertWarning || alert.Message != "world generation in progress" {
		t.Errorf("alert = %+v", alert)
	}
}

func TestBridgeDispatchesCommands(t *testing.T) {
	pub := newFakePublisher()
	ctrl := newFakeController()
	b := New(pub, ctrl, mqtt.NewTopics("mc"), 1)
	stop := runBridge(t, b, pub)
	defer stop()

	h := pub.handler("mc/command/+")

	tests := []struct {
		topic   string
		payload string
		want    string
	}{
		{"mc/command/start", "", "start"},
		{"mc/command/stop", "", "stop"},
		{"mc/command/console", "  say hello \n", "console"},
	}
	for _, tt := range tests {
		if err := h(tt.topic, []byte(tt.payload)); err != nil {
			t.Fatalf("handler(%q) error = %v", tt.topic, err)
		}
		select {
		case got := <-ctrl.called:
			if got != tt.want {
				t.Errorf("handler(%q) called %q, want %q", tt.topic, got, tt.want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler(%q) did not reach the controller", tt.topic)
		}
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.commands) != 1 || ctrl.commands[0] != "say hello" {
		t.Errorf("commands = %q, want [say hello]", ctrl.commands)
	}
}

func TestBridgeIgnoresUnknownCommands(t *testing.T) {
	pub := newFakePublisher()
	ctrl := newFakeController()
	b := New(pub, ctrl, mqtt.NewTopics("mc"), 1)

	for _, topic := range []string{"mc/command/restart", "mc/session/state", "other/command/start"} {
		if err := b.handleCommand(topic, nil); err != nil {
			t.Errorf("handleCommand(%q) error = %v", topic, err)
		}
	}

	select {
	case got := <-ctrl.called:
		t.Errorf("controller called %q for an unknown command", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeUnsubscribesOnExit(t *testing.T) {
	pub := newFakePublisher()
	b := New(pub, newFakeController(), mqtt.NewTopics("mc"), 1)
	stop := runBridge(t, b, pub)
	stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.unsubbed) != 1 || pub.unsubbed[0] != "mc/command/+" {
		t.Errorf("unsubscribed = %q, want [mc/command/+]", pub.unsubbed)
	}
}

func TestBridgeConsoleBacklogKeepsStateAndAlerts(t *testing.T) {
	pub := newFakePublisher()
	b := New(pub, newFakeController(), mqtt.NewTopics("mc"), 1)

	for i := 0; i < queueSize; i++ {
		b.OutputLine("line")
	}
	b.OutputLine("overflow")
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	b.StateChanged(session.StateStopping)
	b.StateChanged(session.StateStopped)
	b.EndpointChanged("play.example.net:25565")
	b.Error("worker exited unexpectedly")
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() after state changes = %d, want 1", got)
	}

	stop := runBridge(t, b, pub)
	// queued lines, one coalesced state, the endpoint and the alert
	waitPublished(t, pub, queueSize+3)
	stop()

	var states []string
	var endpoints, alerts int
	for _, m := range pub.snapshot() {
		switch m.topic {
		case "mc/session/state":
			var st statePayload
			if err := json.Unmarshal([]byte(m.payload), &st); err != nil {
				t.Fatalf("state payload: %v", err)
			}
			states = append(states, st.State)
		case "mc/session/endpoint":
			endpoints++
		case "mc/session/alert":
			alerts++
		}
	}
	if len(states) != 1 || states[0] != string(session.StateStopped) {
		t.Errorf("published states = %v, want [stopped]", states)
	}
	if endpoints != 1 {
		t.Errorf("endpoint publishes = %d, want 1", endpoints)
	}
	if alerts != 1 {
		t.Errorf("alert publishes = %d, want 1", alerts)
	}
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &audit.ListResult{Entries: append([]audit.Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func TestBridgeRecordsCommands(t *testing.T) {
	repo := &memAudit{}
	rec := audit.NewRecorder(repo)
	b := New(newFakePublisher(), newFakeController(), mqtt.NewTopics("mc"), 1)
	b.SetAudit(rec)

	if err := b.handleCommand("mc/command/stop", nil); err != nil {
		t.Fatalf("handleCommand(stop) error = %v", err)
	}
	if err := b.handleCommand("mc/command/console", []byte("list")); err != nil {
		t.Fatalf("handleCommand(console) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(repo.entries))
	}
	stop, console := repo.entries[0], repo.entries[1]
	if stop.Action != audit.ActionStop || stop.Source != audit.SourceMQTT || stop.Outcome == "" {
		t.Errorf("stop entry = %+v, want a refused mqtt stop", stop)
	}
	if console.Action != audit.ActionCommand || console.Detail != "list" || console.Outcome != "" {
		t.Errorf("console entry = %+v, want a successful command", console)
	}
}
