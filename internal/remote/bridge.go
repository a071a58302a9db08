package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/infrastructure/mqtt"
	"github.com/forgerunner/forgerunner/internal/session"
)

const (
	// queueSize bounds console lines waiting to be published.
	queueSize = 512

	// alertQueueSize bounds warnings and errors waiting to be published.
	alertQueueSize = 64

	alertWarning = "warning"
	alertError   = "error"
)

// Publisher is the subset of the MQTT client the bridge uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Controller is the subset of the session controller driven by commands.
type Controller interface {
	Start(ctx context.Context) error
	RequestStop() (*session.StopRequest, error)
	SendCommand(text string) error
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type message struct {
	topic   string
	payload []byte
	// console lines go out at QoS 0 and are dropped first under load.
	console bool
}

type statePayload struct {
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

type endpointPayload struct {
	Endpoint  string `json:"endpoint"`
	Timestamp string `json:"timestamp"`
}

type alertPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Bridge publishes session events and dispatches received commands.
type Bridge struct {
	pub    Publisher
	ctrl   Controller
	topics mqtt.Topics
	qos    byte
	logger Logger
	audit  *audit.Recorder

	// Console lines and alerts queue separately, so a console backlog can
	// never push out an alert. Retained topics keep only their latest
	// payload and are always published.
	lines   chan message
	alerts  chan message
	flushed chan struct{}

	mu       sync.Mutex
	retained map[string][]byte
	dropped  int
	ctx      context.Context //nolint:containedctx // commands outlive the MQTT callback
}

// New creates a bridge. Nothing is published until Run is called.
func New(pub Publisher, ctrl Controller, topics mqtt.Topics, qos byte) *Bridge {
	return &Bridge{
		pub:    pub,
		ctrl:   ctrl,
		topics: topics,
		qos:    qos,
		logger:   noopLogger{},
		lines:    make(chan message, queueSize),
		alerts:   make(chan message, alertQueueSize),
		flushed:  make(chan struct{}, 1),
		retained: make(map[string][]byte),
		ctx:      context.Background(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// SetAudit records received commands. Call before Run.
func (b *Bridge) SetAudit(rec *audit.Recorder) {
	b.audit = rec
}

// Run subscribes to the command topics and publishes queued events until
// ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	commands := b.topics.AllCommands()
	if err := b.pub.Subscribe(commands, b.qos, b.handleCommand); err != nil {
		return err
	}
	b.logger.Info("remote control subscribed", "topic", commands)

	defer func() {
		if err := b.pub.Unsubscribe(commands); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Warn("unsubscribing remote commands", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case <-b.flushed:
			b.flushRetained()
		case m := <-b.alerts:
			b.send(m, false)
		case m := <-b.lines:
			b.send(m, false)
		}
	}
}

// drain publishes whatever is still queued, typically the final state.
func (b *Bridge) drain() {
	b.flushRetained()
	for {
		select {
		case m := <-b.alerts:
			b.send(m, false)
		case m := <-b.lines:
			b.send(m, false)
		default:
			return
		}
	}
}

// flushRetained publishes the latest payload of every retained topic that
// changed since the last flush.
func (b *Bridge) flushRetained() {
	b.mu.Lock()
	pending := b.retained
	b.retained = make(map[string][]byte, len(pending))
	b.mu.Unlock()

	for topic, payload := range pending {
		b.send(message{topic: topic, payload: payload}, true)
	}
}

func (b *Bridge) send(m message, retained bool) {
	qos := b.qos
	if m.console {
		qos = 0
	}
	if err := b.pub.Publish(m.topic, m.payload, qos, retained); err != nil {
		b.logger.Debug("remote publish failed", "topic", m.topic, "error", err)
	}
}

// setRetained replaces the pending payload for topic and wakes Run.
func (b *Bridge) setRetained(topic string, payload []byte) {
	b.mu.Lock()
	b.retained[topic] = payload
	b.mu.Unlock()
	select {
	case b.flushed <- struct{}{}:
	default:
	}
}

func (b *Bridge) enqueueLine(m message) {
	select {
	case b.lines <- m:
		return
	default:
	}
	b.mu.Lock()
	b.dropped++
	n := b.dropped
	b.mu.Unlock()
	if n == 1 || n%100 == 0 {
		b.logger.Warn("remote queue full, dropping console lines", "dropped", n)
	}
}

func (b *Bridge) enqueueAlert(m message) {
	select {
	case b.alerts <- m:
	default:
		b.logger.Warn("remote alert queue full, alert lost", "topic", m.topic)
	}
}

// Dropped returns how many console lines were not published.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bridge) marshal(topic string, v any) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("marshalling remote payload", "topic", topic, "error", err)
		return nil, false
	}
	return data, true
}

func (b *Bridge) publishRetained(topic string, v any) {
	if data, ok := b.marshal(topic, v); ok {
		b.setRetained(topic, data)
	}
}

func (b *Bridge) publishAlert(level, msg string) {
	topic := b.topics.SessionAlert()
	if data, ok := b.marshal(topic, alertPayload{Level: level, Message: msg, Timestamp: now()}); ok {
		b.enqueueAlert(message{topic: topic, payload: data})
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// OutputLine implements session.Surface.
func (b *Bridge) OutputLine(line string) {
	b.enqueueLine(message{
		topic:   b.topics.SessionConsole(),
		payload: []byte(line),
		console: true,
	})
}

// EndpointChanged implements session.Surface.
func (b *Bridge) EndpointChanged(endpoint string) {
	b.publishRetained(b.topics.SessionEndpoint(), endpointPayload{Endpoint: endpoint, Timestamp: now()})
}

// StateChanged implements session.Surface.
func (b *Bridge) StateChanged(state session.RunState) {
	b.publishRetained(b.topics.SessionState(), statePayload{State: string(state), Timestamp: now()})
}

// Warning implements session.Surface.
func (b *Bridge) Warning(msg string) {
	b.publishAlert(alertWarning, msg)
}

// Error implements session.Surface.
func (b *Bridge) Error(msg string) {
	b.publishAlert(alertError, msg)
}

// handleCommand runs on the MQTT client's goroutine. Start and stop can
// take a while, so the work happens on a goroutine of its own.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name, ok := b.topics.CommandName(topic)
	if !ok {
		return nil
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	switch name {
	case mqtt.CommandStart:
		go func() {
			err := b.ctrl.Start(ctx)
			b.record(audit.ActionStart, "", err)
			if err != nil {
				b.logger.Info("remote start refused", "error", err)
			}
		}()
	case mqtt.CommandStop:
		_, err := b.ctrl.RequestStop()
		b.record(audit.ActionStop, "", err)
		if err != nil {
			b.logger.Info("remote stop refused", "error", err)
		}
	case mqtt.CommandConsole:
		text := strings.TrimSpace(string(payload))
		err := b.ctrl.SendCommand(text)
		b.record(audit.ActionCommand, text, err)
		if err != nil {
			b.logger.Warn("remote console command failed", "error", err)
		}
	default:
		b.logger.Debug("unknown remote command", "command", name)
	}
	return nil
}

func (b *Bridge) record(action, detail string, err error) {
	e := audit.Entry{Action: action, Source: audit.SourceMQTT, Detail: detail}
	if err != nil {
		e.Outcome = err.Error()
	}
	b.audit.Record(e)
}
