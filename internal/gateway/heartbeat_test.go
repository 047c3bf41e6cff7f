package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSender records every message sent through it, optionally failing.
type fakeSender struct {
	mu      sync.Mutex
	sent    []GatewayMessage
	failErr error
}

func (f *fakeSender) Send(_ context.Context, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	msg, ok := v.(GatewayMessage)
	if !ok {
		return errors.New("fakeSender: unexpected value type")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []GatewayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GatewayMessage(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHeartbeatHandler_AcksAndStaysLive(t *testing.T) {
	conn := &fakeSender{}
	heartbeats := make(chan HeartbeatPayload, 1)
	kill := newKillSwitch()
	seq := &sequenceCounter{}
	sessionID := &sessionIDCell{}

	h := newHeartbeatHandler(conn, 50*time.Millisecond, heartbeats, kill, seq, sessionID, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); h.run(ctx) }()

	hbSeq := int64(3)
	heartbeats <- HeartbeatPayload{Seq: &hbSeq}

	deadline := time.After(time.Second)
	for {
		if h.State() == heartbeatLive {
			break
		}
		select {
		case <-deadline:
			t.Fatal("handler never reached heartbeatLive")
		case <-time.After(time.Millisecond):
		}
	}

	msgs := conn.messages()
	if len(msgs) != 1 || msgs[0].Op != OpHeartbeatAck {
		t.Fatalf("expected a single HeartbeatAck, got %+v", msgs)
	}

	kill.Fire()
	<-done
}

func TestHeartbeatHandler_TimesOutAndKills(t *testing.T) {
	conn := &fakeSender{}
	heartbeats := make(chan HeartbeatPayload)
	kill := newKillSwitch()
	seq := &sequenceCounter{}
	sessionID := &sessionIDCell{}

	h := newHeartbeatHandler(conn, 10*time.Millisecond, heartbeats, kill, seq, sessionID, testLogger())

	done := make(chan struct{})
	go func() { defer close(done); h.run(context.Background()) }()

	select {
	case <-kill.Done():
	case <-time.After(time.Second):
		t.Fatal("kill switch was never fired after heartbeat timeout")
	}
	<-done

	if h.State() != heartbeatDead {
		t.Errorf("State() = %v, want heartbeatDead", h.State())
	}
}

func TestHeartbeatHandler_SendFailureKillsClient(t *testing.T) {
	conn := &fakeSender{failErr: errors.New("write failed")}
	heartbeats := make(chan HeartbeatPayload, 1)
	kill := newKillSwitch()
	seq := &sequenceCounter{}
	sessionID := &sessionIDCell{}

	h := newHeartbeatHandler(conn, time.Second, heartbeats, kill, seq, sessionID, testLogger())

	done := make(chan struct{})
	go func() { defer close(done); h.run(context.Background()) }()

	hbSeq := int64(1)
	heartbeats <- HeartbeatPayload{Seq: &hbSeq}

	select {
	case <-kill.Done():
	case <-time.After(time.Second):
		t.Fatal("kill switch was never fired after send failure")
	}
	<-done
}

func TestHeartbeatPayload_RoundTrip(t *testing.T) {
	seq := int64(42)
	raw, err := json.Marshal(HeartbeatPayload{Seq: &seq})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded HeartbeatPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Seq == nil || *decoded.Seq != seq {
		t.Errorf("Seq = %v, want %d", decoded.Seq, seq)
	}
}
