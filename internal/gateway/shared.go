package gateway

import (
	"context"
	"sync"
	"sync/atomic"
)

// killSwitch is a one-shot broadcast: Fire closes the channel exactly once,
// and every goroutine holding a reference observes it via Done(). This is
// the Go-native replacement for the original implementation's
// single-slot broadcast channel used purely to wake every task on kill.
type killSwitch struct {
	once sync.Once
	ch   chan struct{}
}

func newKillSwitch() *killSwitch {
	return &killSwitch{ch: make(chan struct{})}
}

func (k *killSwitch) Fire() {
	k.once.Do(func() { close(k.ch) })
}

func (k *killSwitch) Done() <-chan struct{} { return k.ch }

func (k *killSwitch) Fired() bool {
	select {
	case <-k.ch:
		return true
	default:
		return false
	}
}

// sequenceCounter is the shared, monotonically increasing dispatch sequence
// for one client.
type sequenceCounter struct {
	v int64
}

func (s *sequenceCounter) next() int64    { return atomic.AddInt64(&s.v, 1) }
func (s *sequenceCounter) current() int64 { return atomic.LoadInt64(&s.v) }

// sessionIDCell is a guarded cell handing the session id, once known, to a
// heartbeat handler that may have been spawned before Identify completed.
type sessionIDCell struct {
	mu sync.RWMutex
	id string
}

func (c *sessionIDCell) set(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *sessionIDCell) get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// frameResult is one decoded frame, or the error that ended the read loop.
type frameResult struct {
	msg GatewayMessage
	err error
}

// frameReader performs exactly one blocking Receive and reports the result
// once, rather than looping internally. Reading the next frame means
// starting a new frameReader, not waiting on this one again: that keeps
// "stop reading between frames" a plain matter of not starting the next
// read, instead of canceling a context a Read call is using, which per
// coder/websocket takes the underlying connection down with it.
type frameReader struct {
	ch chan frameResult
}

func startFrameReader(ctx context.Context, conn *Connection) *frameReader {
	fr := &frameReader{ch: make(chan frameResult, 1)}
	go func() {
		msg, err := conn.Receive(ctx)
		fr.ch <- frameResult{msg: msg, err: err}
		close(fr.ch)
	}()
	return fr
}

func (fr *frameReader) C() <-chan frameResult { return fr.ch }
