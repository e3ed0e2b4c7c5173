package mqttclient

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type published struct {
	topic   string
	payload []byte
}

// fakeConn records publishes; other mqtt.Client methods are unused.
type fakeConn struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: payload.([]byte)})
	return &doneToken{err: f.err}
}

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

func TestPublish(t *testing.T) {
	conn := &fakeConn{}
	c := &Client{conn: conn, prefix: "speechprep", log: zerolog.Nop()}

	c.PublishAnalysis(AnalysisCompleted{Mode: "script", Provider: "assemblyai", Overall: 82})
	c.PublishSession(SessionSaved{SessionID: "s-1", Mode: "topic", Authenticated: true})

	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}
	if conn.msgs[0].topic != "speechprep/analysis/completed" {
		t.Errorf("topic = %q", conn.msgs[0].topic)
	}
	if conn.msgs[1].topic != "speechprep/sessions/saved" {
		t.Errorf("topic = %q", conn.msgs[1].topic)
	}

	var ev AnalysisCompleted
	if err := json.Unmarshal(conn.msgs[0].payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Provider != "assemblyai" || ev.Overall != 82 {
		t.Errorf("event = %+v", ev)
	}
}

func TestPublishErrorDoesNotPanic(t *testing.T) {
	conn := &fakeConn{err: errors.New("not connected")}
	c := &Client{conn: conn, log: zerolog.Nop()}
	c.PublishSession(SessionSaved{SessionID: "s-1"})
	if conn.msgs[0].topic != "sessions/saved" {
		t.Errorf("topic without prefix = %q", conn.msgs[0].topic)
	}
}
