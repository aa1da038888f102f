package mcpgateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
)

const eventBuffer = 64

// rpcEvent is the JSON payload of one "rpc" event.
type rpcEvent struct {
	Server    string          `json:"server"`
	Direction string          `json:"direction"`
	Message   json.RawMessage `json:"message"`
}

// EventStream fans protocol traffic out to server-sent event subscribers.
// Slow subscribers lose events rather than stall a transport.
type EventStream struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan *sse.Message]struct{}
}

// NewEventStream returns an EventStream with no subscribers.
func NewEventStream(logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStream{logger: logger, subs: make(map[chan *sse.Message]struct{})}
}

// Logger returns an RPCLogger that publishes every event to the stream.
func (s *EventStream) Logger() mcpmgr.RPCLogger {
	return s.Publish
}

// Publish broadcasts ev to current subscribers.
func (s *EventStream) Publish(ev mcpmgr.RPCLogEvent) {
	payload := rpcEvent{Server: ev.ServerName, Direction: string(ev.Direction), Message: ev.Message}
	if !json.Valid(ev.Message) {
		quoted, _ := json.Marshal(string(ev.Message))
		payload.Message = quoted
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := &sse.Message{Type: sse.Type("rpc")}
	msg.AppendData(string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers reports the number of connected listeners.
func (s *EventStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *EventStream) subscribe() chan *sse.Message {
	ch := make(chan *sse.Message, eventBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *EventStream) unsubscribe(ch chan *sse.Message) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// ServeHTTP streams events until the client goes away.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade event stream", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	hello := &sse.Message{Type: sse.Type("ready")}
	hello.AppendData("{}")
	if err := sess.Send(hello); err != nil {
		return
	}
	if err := sess.Flush(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if err := sess.Send(msg); err != nil {
				s.logger.Debug("event stream send failed", "err", err)
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}
