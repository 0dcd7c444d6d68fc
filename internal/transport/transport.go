// Package transport drives the WebSocket connection state machine described
// in spec.md §4.5: dial, subscribe instruments, subscribe book channels,
// stream, and recover from disconnects, rate limits and stalled pongs. Every
// inbound raw frame is handed to the Recorder before the decoded Envelope is
// forwarded downstream, so live traffic and a replayed journal exercise the
// identical decode/apply/verify path.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Adityaakr/k-blackbox/internal/domain"
	"github.com/Adityaakr/k-blackbox/internal/wire"
)

var (
	errRateLimited     = errors.New("transport: rate limit exceeded")
	errPingTimeout     = errors.New("transport: pong not received within 2x ping interval")
	errForcedReconnect = errors.New("transport: reconnect forced by caller")
	errNotConnected    = errors.New("transport: not connected")
)

// cleanStreamingResetThreshold is the uninterrupted Streaming duration after
// which the reconnect backoff counter resets to zero (spec.md §4.5).
const cleanStreamingResetThreshold = 60 * time.Second

// FrameRecorder is the subset of *recorder.Recorder the transport depends
// on, declared locally so this package doesn't need to import recorder just
// for one method.
type FrameRecorder interface {
	Append(symbol string, raw []byte, decodedEvent string) error
}

// Config holds everything the connection state machine needs to know about
// the session it is establishing.
type Config struct {
	URL     string
	Symbols []string
	Depth   int

	PingInterval        time.Duration
	SubscribeBatchSize  int
	SubscribeAckTimeout time.Duration
	HandshakeTimeout    time.Duration
	CooldownDuration    time.Duration

	BackoffBase time.Duration
	BackoffCap  time.Duration

	MaxMessageBytes int64
	EventBufferSize int
}

// DefaultConfig fills in the defaults named in spec.md §4.5 for any zero
// field in cfg.
func DefaultConfig(cfg Config) Config {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SubscribeBatchSize == 0 {
		cfg.SubscribeBatchSize = 50
	}
	if cfg.SubscribeAckTimeout == 0 {
		cfg.SubscribeAckTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.CooldownDuration == 0 {
		cfg.CooldownDuration = 60 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 1 * time.Second
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 300 * time.Second
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = 4096
	}
	return cfg
}

// Frame is one inbound message, already recorded, handed downstream.
// Envelope is nil and Err is set when the frame failed to decode; the
// connection is not dropped for a decode failure alone.
type Frame struct {
	Raw      []byte
	Envelope wire.Envelope
	Err      error
}

// Transport owns one WebSocket connection's full lifecycle. It never mutates
// book state itself; it only produces a stream of Frame values for the
// pipeline orchestration layer to apply.
type Transport struct {
	cfg    Config
	logger *zap.Logger
	rec    FrameRecorder
	seq    *wire.SeqTracker
	dialer websocket.Dialer

	events  chan Frame
	resync  chan string

	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	descMu sync.RWMutex
	desc   map[string]domain.Descriptor

	pongMu   sync.Mutex
	lastPong time.Time

	exitMu     sync.Mutex
	exitReason error

	slowMu         sync.Mutex
	lastSlowLog    time.Time
	onSlowConsumer func()

	backoff *Backoff
}

// SetSlowConsumerHook registers fn to run whenever the events channel was
// found full (at most once per second, matching the log rate in
// logSlowConsumer). The pipeline orchestration layer uses this to record a
// SlowConsumer health event and metric without transport importing health.
func (t *Transport) SetSlowConsumerHook(fn func()) {
	t.slowMu.Lock()
	defer t.slowMu.Unlock()
	t.onSlowConsumer = fn
}

// NewTransport builds a Transport ready for Run. rec is typically a
// *recorder.Recorder; seq may be nil if sequence-gap detection is handled
// elsewhere.
func NewTransport(cfg Config, logger *zap.Logger, rec FrameRecorder, seq *wire.SeqTracker) *Transport {
	cfg = DefaultConfig(cfg)
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		rec:     rec,
		seq:     seq,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		events:  make(chan Frame, cfg.EventBufferSize),
		resync:  make(chan string, len(cfg.Symbols)+1),
		desc:    make(map[string]domain.Descriptor),
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffCap),
	}
}

// Events returns the channel of decoded (or decode-failed) frames. Run
// closes it when it returns.
func (t *Transport) Events() <-chan Frame { return t.events }

// State reports the current point in the connection state machine.
func (t *Transport) State() State {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

// Descriptors returns a copy of the cached instrument descriptor map.
func (t *Transport) Descriptors() map[string]domain.Descriptor {
	t.descMu.RLock()
	defer t.descMu.RUnlock()
	out := make(map[string]domain.Descriptor, len(t.desc))
	for k, v := range t.desc {
		out[k] = v
	}
	return out
}

func (t *Transport) storeDescriptors(m map[string]domain.Descriptor) {
	t.descMu.Lock()
	defer t.descMu.Unlock()
	for k, v := range m {
		t.desc[k] = v
	}
}

// RequestResync asks the transport to resubscribe the book channel for one
// symbol without dropping the connection, per spec.md §4.5's digest-mismatch
// handling. The request is queued and sent while the transport is
// streaming; a request made between connections waits for the next
// streaming session, and one made while the queue is full is dropped.
func (t *Transport) RequestResync(symbol string) {
	select {
	case t.resync <- symbol:
	default:
		t.logger.Warn("resync request dropped, queue full", zap.String("symbol", symbol))
	}
}

// ForceReconnect drops the current connection and lets Run's backoff loop
// re-establish it, used when consecutive digest mismatches for a symbol
// reach the configured threshold.
func (t *Transport) ForceReconnect() {
	t.setExitReason(errForcedReconnect)
	t.closeConnNow()
}

// Run drives the connection state machine until ctx is canceled. It never
// returns nil; a canceled ctx yields ctx.Err().
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.events)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := t.connectOnce(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		t.logger.Warn("transport connection ended", zap.Error(err))

		if errors.Is(err, errRateLimited) {
			t.setState(StateCooldown)
			if !t.sleep(ctx, t.cfg.CooldownDuration) {
				return ctx.Err()
			}
			continue
		}

		t.setState(StateReconnecting)
		if !t.sleep(ctx, t.backoff.Next()) {
			return ctx.Err()
		}
	}
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) connectOnce(ctx context.Context) error {
	t.setState(StateConnecting)
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(t.cfg.MaxMessageBytes)
	t.setConn(conn)
	defer func() {
		conn.Close()
		t.clearConn()
	}()

	stopWatcher := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatcher:
		}
	}()
	defer close(stopWatcher)

	t.setState(StateInstrumentSubscribing)
	if err := t.writeJSON(instrumentSubscribeMessage(t.cfg.Symbols)); err != nil {
		return fmt.Errorf("subscribe instruments: %w", err)
	}
	if err := t.awaitInstrumentSnapshot(); err != nil {
		return err
	}
	t.setState(StateInstrumentReady)

	t.setState(StateBookSubscribing)
	if err := t.subscribeBooksWithRetry(); err != nil {
		return err
	}
	t.setState(StateStreaming)

	return t.stream(ctx)
}

func (t *Transport) awaitInstrumentSnapshot() error {
	deadline := time.Now().Add(t.cfg.SubscribeAckTimeout)
	for {
		f, err := t.readFrame(deadline)
		if err != nil {
			return fmt.Errorf("awaiting instrument snapshot: %w", err)
		}
		t.forward(f)
		if f.Err != nil {
			continue
		}
		switch env := f.Envelope.(type) {
		case wire.InstrumentSnapshot:
			t.storeDescriptors(env.Descriptors)
			return nil
		case wire.RateLimitExceeded:
			return errRateLimited
		}
	}
}

func (t *Transport) subscribeBooksWithRetry() error {
	for _, batch := range batchSymbols(t.cfg.Symbols, t.cfg.SubscribeBatchSize) {
		if err := t.writeJSON(bookSubscribeMessage(batch, t.cfg.Depth)); err != nil {
			return fmt.Errorf("subscribe book batch: %w", err)
		}
	}

	pending := make(map[string]bool, len(t.cfg.Symbols))
	for _, s := range t.cfg.Symbols {
		pending[s] = true
	}

	resent := false
	deadline := time.Now().Add(t.cfg.SubscribeAckTimeout)
	for len(pending) > 0 {
		f, err := t.readFrame(deadline)
		if err != nil {
			if !resent && isTimeout(err) {
				resent = true
				for _, batch := range batchSymbols(symbolsOf(pending), t.cfg.SubscribeBatchSize) {
					if werr := t.writeJSON(bookSubscribeMessage(batch, t.cfg.Depth)); werr != nil {
						return fmt.Errorf("resubscribe book batch: %w", werr)
					}
				}
				deadline = time.Now().Add(t.cfg.SubscribeAckTimeout)
				continue
			}
			return fmt.Errorf("awaiting book snapshots: %w", err)
		}
		t.forward(f)
		if f.Err != nil {
			continue
		}
		switch env := f.Envelope.(type) {
		case wire.BookSnapshot:
			delete(pending, env.Symbol)
		case wire.RateLimitExceeded:
			return errRateLimited
		}
	}
	return nil
}

func (t *Transport) stream(ctx context.Context) error {
	streamingSince := time.Now()
	t.setLastPong(streamingSince)

	pingDone := make(chan struct{})
	go t.pingLoop(pingDone)
	defer close(pingDone)

	resyncDone := make(chan struct{})
	go t.resyncLoop(resyncDone)
	defer close(resyncDone)

	for {
		f, err := t.readFrame(time.Time{})
		if err != nil {
			if reason := t.takeExitReason(); reason != nil {
				return reason
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("stream read: %w", err)
		}
		t.forward(f)

		if f.Err == nil {
			switch env := f.Envelope.(type) {
			case wire.PingPong:
				if env.Method == "pong" {
					t.setLastPong(time.Now())
				}
			case wire.RateLimitExceeded:
				return errRateLimited
			case wire.BookUpdate:
				if env.Seq != nil && t.seq != nil && t.seq.Observe(env.Symbol, *env.Seq) {
					t.logger.Warn("sequence gap", zap.String("symbol", env.Symbol), zap.Int64("seq", *env.Seq))
					t.RequestResync(env.Symbol)
				}
			}
		}

		if time.Since(streamingSince) > cleanStreamingResetThreshold {
			t.backoff.Reset()
		}
	}
}

func (t *Transport) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := t.writeJSON(pingMessage{Method: "ping"}); err != nil {
				t.setExitReason(fmt.Errorf("ping write: %w", err))
				t.closeConnNow()
				return
			}
			if time.Since(t.getLastPong()) > 2*t.cfg.PingInterval {
				t.setExitReason(errPingTimeout)
				t.closeConnNow()
				return
			}
		}
	}
}

func (t *Transport) resyncLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case symbol := <-t.resync:
			if err := t.writeJSON(bookSubscribeMessage([]string{symbol}, t.cfg.Depth)); err != nil {
				t.logger.Warn("resync subscribe failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if t.seq != nil {
				t.seq.Reset(symbol)
			}
			t.logger.Info("resync requested", zap.String("symbol", symbol))
		}
	}
}

// readFrame reads one message, records it (before any downstream use),
// decodes it, and returns the resulting Frame. Only a network-level failure
// (including a deadline expiry) is returned as an error; a decode failure is
// carried inside the Frame so the caller can log it and keep reading.
func (t *Transport) readFrame(deadline time.Time) (Frame, error) {
	conn := t.getConn()
	if conn == nil {
		return Frame{}, errNotConnected
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Frame{}, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}

	env, decErr := wire.Decode(raw)
	symbol, kind := "", "decode_error"
	if decErr == nil {
		symbol, kind = envelopeSymbol(env), env.Kind().String()
	}
	if appendErr := t.rec.Append(symbol, raw, kind); appendErr != nil {
		t.logger.Error("journal append failed", zap.Error(appendErr))
	}
	return Frame{Raw: raw, Envelope: env, Err: decErr}, nil
}

// forward delivers f to the events channel, blocking if the downstream
// pipeline is behind. The frame has already been handed to the recorder by
// the time this is called, so a blocked send never risks losing it; spec.md §5 asks
// only that a full queue be logged, not that frames be dropped.
func (t *Transport) forward(f Frame) {
	select {
	case t.events <- f:
		return
	default:
	}
	t.logSlowConsumer()
	t.events <- f
}

func (t *Transport) logSlowConsumer() {
	t.slowMu.Lock()
	now := time.Now()
	if now.Sub(t.lastSlowLog) < time.Second {
		t.slowMu.Unlock()
		return
	}
	t.lastSlowLog = now
	hook := t.onSlowConsumer
	t.slowMu.Unlock()

	t.logger.Warn("SlowConsumer: downstream pipeline behind", zap.Int("buffered", len(t.events)))
	if hook != nil {
		hook()
	}
}

func (t *Transport) writeJSON(v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn := t.getConn()
	if conn == nil {
		return errNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (t *Transport) setConn(c *websocket.Conn) {
	t.connMu.Lock()
	t.conn = c
	t.connMu.Unlock()
}

func (t *Transport) clearConn() {
	t.connMu.Lock()
	t.conn = nil
	t.connMu.Unlock()
}

func (t *Transport) getConn() *websocket.Conn {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn
}

func (t *Transport) closeConnNow() {
	if conn := t.getConn(); conn != nil {
		conn.Close()
	}
}

func (t *Transport) setLastPong(ts time.Time) {
	t.pongMu.Lock()
	t.lastPong = ts
	t.pongMu.Unlock()
}

func (t *Transport) getLastPong() time.Time {
	t.pongMu.Lock()
	defer t.pongMu.Unlock()
	return t.lastPong
}

func (t *Transport) setExitReason(err error) {
	t.exitMu.Lock()
	if t.exitReason == nil {
		t.exitReason = err
	}
	t.exitMu.Unlock()
}

func (t *Transport) takeExitReason() error {
	t.exitMu.Lock()
	defer t.exitMu.Unlock()
	r := t.exitReason
	t.exitReason = nil
	return r
}

func envelopeSymbol(env wire.Envelope) string {
	switch e := env.(type) {
	case wire.Status:
		return e.Symbol
	case wire.BookSnapshot:
		return e.Symbol
	case wire.BookUpdate:
		return e.Symbol
	default:
		return ""
	}
}

func symbolsOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
