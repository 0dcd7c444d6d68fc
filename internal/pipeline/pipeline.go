// Package pipeline wires the transport's decoded frame stream into the
// depth book, the digest reconstructor and the health tracker, and drives
// resync/reconnect and incident capture on divergence. It is the "Pipeline
// Orchestration" row of spec.md §2: the only place that imports every leaf
// component, so live traffic and a replayed journal can both be driven
// through the identical apply/verify/record graph (spec.md §1, §4.6).
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Adityaakr/k-blackbox/internal/checksum"
	"github.com/Adityaakr/k-blackbox/internal/domain"
	"github.com/Adityaakr/k-blackbox/internal/health"
	"github.com/Adityaakr/k-blackbox/internal/incident"
	"github.com/Adityaakr/k-blackbox/internal/orderbook"
	"github.com/Adityaakr/k-blackbox/internal/recorder"
	"github.com/Adityaakr/k-blackbox/internal/transport"
	"github.com/Adityaakr/k-blackbox/internal/wire"
)

const (
	rateLimitEscalationWindow    = 10 * time.Minute
	rateLimitEscalationThreshold = 2
)

// Source is the event stream the pipeline drives off of, plus the two
// connection-control actions a divergence can trigger. *transport.Transport
// satisfies this live; tests substitute a fake.
type Source interface {
	Events() <-chan transport.Frame
	RequestResync(symbol string)
	ForceReconnect()
}

// FrameWindower serves the recent-frame window an incident bundle needs.
// *recorder.Recorder satisfies this.
type FrameWindower interface {
	Window(symbol string, from, to time.Time) []recorder.Record
}

// Config is the subset of the ambient configuration the pipeline itself
// consults; everything else (dial URL, batching) belongs to transport.Config.
type Config struct {
	Depth                      int
	ExpectedMsgGap             time.Duration
	MismatchReconnectThreshold int
	IncidentPreWindow          time.Duration
	IncidentPostWindow         time.Duration
	IncidentConfigSnapshot     incident.Config
}

// DefaultConfig fills in spec.md §4.5/§4.7/§4.8 defaults for any zero field.
func DefaultConfig(cfg Config) Config {
	if cfg.Depth == 0 {
		cfg.Depth = 25
	}
	if cfg.ExpectedMsgGap == 0 {
		cfg.ExpectedMsgGap = 2 * time.Second
	}
	if cfg.MismatchReconnectThreshold == 0 {
		cfg.MismatchReconnectThreshold = 5
	}
	if cfg.IncidentPreWindow == 0 {
		cfg.IncidentPreWindow = 30 * time.Second
	}
	if cfg.IncidentPostWindow == 0 {
		cfg.IncidentPostWindow = 5 * time.Second
	}
	return cfg
}

// Pipeline owns every book for the session, the shared health registry, and
// the incident bundler. It is the single mutator of book state (spec.md
// §5's T2): nothing else in this module calls orderbook.Book's write methods.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	tr      Source
	frames  FrameWindower
	bundler *incident.Bundler
	metrics *health.Metrics
	health  *health.Registry

	booksMu sync.RWMutex
	books   map[string]*orderbook.Book

	descMu      sync.RWMutex
	descriptors map[string]domain.Descriptor

	rateLimitMu     sync.Mutex
	rateLimitCount  int
	lastRateLimitAt time.Time

	ctx context.Context
}

// New builds a Pipeline. symbols pre-registers a health tracker for each
// configured symbol so event_log/overall_health are populated even before
// the first frame for a quiet symbol arrives. bundler and metrics may be
// nil: incident capture and Prometheus export are then both no-ops.
func New(cfg Config, symbols []string, logger *zap.Logger, tr Source, frames FrameWindower, bundler *incident.Bundler, metrics *health.Metrics) *Pipeline {
	cfg = DefaultConfig(cfg)
	p := &Pipeline{
		cfg:         cfg,
		logger:      logger,
		tr:          tr,
		frames:      frames,
		bundler:     bundler,
		metrics:     metrics,
		health:      health.NewRegistry(256),
		books:       make(map[string]*orderbook.Book),
		descriptors: make(map[string]domain.Descriptor),
	}
	for _, s := range symbols {
		p.health.Track(s, cfg.ExpectedMsgGap)
	}
	return p
}

// Health returns the shared registry read views query.
func (p *Pipeline) Health() *health.Registry { return p.health }

// Book returns the live book for symbol, if one has been created by a
// snapshot yet (spec.md §3: a book exists only from its first snapshot).
func (p *Pipeline) Book(symbol string) (*orderbook.Book, bool) {
	p.booksMu.RLock()
	defer p.booksMu.RUnlock()
	b, ok := p.books[symbol]
	return b, ok
}

// Run drains the transport's frame stream and applies every frame to the
// book/digest/health graph until the channel closes or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.ctx = ctx
	for {
		select {
		case f, ok := <-p.tr.Events():
			if !ok {
				return nil
			}
			p.handle(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) handle(f transport.Frame) {
	if f.Err != nil {
		p.logger.Warn("frame decode failed", zap.Error(f.Err))
		p.health.Events().Push(health.EventMalformedFrame, "", f.Err.Error())
		return
	}

	switch env := f.Envelope.(type) {
	case wire.InstrumentSnapshot:
		p.storeDescriptors(env.Descriptors)
	case wire.BookSnapshot:
		p.onSnapshot(env)
	case wire.BookUpdate:
		p.onUpdate(env)
	case wire.RateLimitExceeded:
		p.onRateLimit(env)
	case wire.Status:
		p.onStatus(env)
	case wire.UnknownFrame:
		p.health.Events().Push(health.EventUnknownDescriptor, "", "unrecognized frame shape")
	}

	if symbol := envelopeSymbol(f.Envelope); symbol != "" {
		if tr, ok := p.health.Get(symbol); ok {
			tr.ObserveMessage(time.Now())
		}
		if p.metrics != nil {
			p.metrics.MsgsTotal.WithLabelValues(symbol).Inc()
		}
	}
}

func (p *Pipeline) storeDescriptors(descs map[string]domain.Descriptor) {
	p.descMu.Lock()
	defer p.descMu.Unlock()
	for symbol, d := range descs {
		p.descriptors[symbol] = d
	}
}

func (p *Pipeline) descriptor(symbol string) (domain.Descriptor, bool) {
	p.descMu.RLock()
	defer p.descMu.RUnlock()
	d, ok := p.descriptors[symbol]
	return d, ok
}

func (p *Pipeline) onStatus(env wire.Status) {
	p.descMu.Lock()
	defer p.descMu.Unlock()
	if d, ok := p.descriptors[env.Symbol]; ok {
		d.Status = env.Status
		p.descriptors[env.Symbol] = d
	}
}

func (p *Pipeline) bookFor(symbol string) *orderbook.Book {
	p.booksMu.Lock()
	defer p.booksMu.Unlock()
	b, ok := p.books[symbol]
	if !ok {
		b = orderbook.New(symbol, p.cfg.Depth)
		p.books[symbol] = b
	}
	return b
}

// onSnapshot applies a full-state replacement and, if the descriptor for
// this symbol is not yet known, discards the frame per the invariant in
// spec.md §3: "no book frame for a symbol is processed before its
// descriptor is known".
func (p *Pipeline) onSnapshot(env wire.BookSnapshot) {
	desc, ok := p.descriptor(env.Symbol)
	if !ok {
		p.health.Events().Push(health.EventUnknownDescriptor, env.Symbol, "book snapshot arrived before instrument descriptor")
		return
	}
	book := p.bookFor(env.Symbol)
	book.ApplySnapshot(env.Bids, env.Asks)
	p.verify(book, desc, env.Digest, env.Symbol)
}

func (p *Pipeline) onUpdate(env wire.BookUpdate) {
	desc, ok := p.descriptor(env.Symbol)
	if !ok {
		p.health.Events().Push(health.EventUnknownDescriptor, env.Symbol, "book update arrived before instrument descriptor")
		return
	}
	book := p.bookFor(env.Symbol)
	book.ApplyUpdate(env.Bids, env.Asks)
	p.verify(book, desc, env.Digest, env.Symbol)
}

// verify reconstructs and compares the digest when one was attached to the
// frame. A frame with no digest field skips verification entirely rather
// than counting as a failure, per spec.md §4.3's documented failure mode.
func (p *Pipeline) verify(book *orderbook.Book, desc domain.Descriptor, digest *uint32, symbol string) {
	if digest == nil {
		return
	}
	result := checksum.Verify(book, desc, *digest)

	tracker, ok := p.health.Get(symbol)
	if !ok {
		tracker = p.health.Track(symbol, p.cfg.ExpectedMsgGap)
	}
	now := time.Now()
	tracker.ObserveDigest(result.OK, result.Elapsed, now)

	if p.metrics != nil {
		p.metrics.VerifyLatency.WithLabelValues(symbol).Observe(result.Elapsed.Seconds())
		if result.OK {
			p.metrics.DigestOK.WithLabelValues(symbol).Inc()
		} else {
			p.metrics.DigestFail.WithLabelValues(symbol).Inc()
		}
	}

	if result.OK {
		return
	}

	p.logger.Warn("digest mismatch", zap.String("symbol", symbol),
		zap.Uint32("expected", result.Expected), zap.Uint32("computed", result.Computed))
	p.health.Events().Push(health.EventDigestMismatch, symbol,
		fmt.Sprintf("expected=%d computed=%d", result.Expected, result.Computed))

	p.tr.RequestResync(symbol)
	p.scheduleIncidentCapture(incident.ReasonDigestMismatch, symbol, result)

	// A halted symbol legitimately stops updating; don't force a full
	// reconnect over a digest that can no longer change (spec.md
	// SUPPLEMENTED FEATURES, from blackbox-core/src/types.rs TradingStatus).
	if desc.Status == domain.StatusHalted {
		return
	}
	if tracker.ConsecutiveFails() >= uint64(p.cfg.MismatchReconnectThreshold) {
		p.logger.Error("consecutive digest mismatches reached threshold, forcing reconnect",
			zap.String("symbol", symbol), zap.Uint64("consecutive_fails", tracker.ConsecutiveFails()))
		p.tr.ForceReconnect()
	}
}

func (p *Pipeline) onRateLimit(env wire.RateLimitExceeded) {
	p.logger.Warn("rate limit exceeded, entering cooldown", zap.Int64("retry_after_ms", env.RetryAfterMs))
	p.health.Events().Push(health.EventRateLimitCooldown, "",
		fmt.Sprintf("retry_after_ms=%d", env.RetryAfterMs))

	p.rateLimitMu.Lock()
	now := time.Now()
	if now.Sub(p.lastRateLimitAt) < rateLimitEscalationWindow {
		p.rateLimitCount++
	} else {
		p.rateLimitCount = 1
	}
	p.lastRateLimitAt = now
	escalate := p.rateLimitCount >= rateLimitEscalationThreshold
	if escalate {
		p.rateLimitCount = 0
	}
	p.rateLimitMu.Unlock()

	if escalate {
		go func() {
			if _, err := p.exportIncident(incident.ReasonRateLimitEscalate, "", time.Now().UTC(), checksum.Result{}); err != nil {
				p.logger.Error("incident export failed", zap.Error(err))
			}
		}()
	}
}

// scheduleIncidentCapture waits IncidentPostWindow before assembling the
// archive, so the captured frame window [t-pre, t+post] can actually
// include the post-divergence frames spec.md §4.8 asks for.
func (p *Pipeline) scheduleIncidentCapture(reason incident.Reason, symbol string, result checksum.Result) {
	if p.bundler == nil {
		return
	}
	capturedAt := time.Now().UTC()
	ctx := p.ctx
	go func() {
		timer := time.NewTimer(p.cfg.IncidentPostWindow)
		defer timer.Stop()
		if ctx != nil {
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		} else {
			<-timer.C
		}
		if _, err := p.exportIncident(reason, symbol, capturedAt, result); err != nil {
			p.logger.Error("incident export failed", zap.Error(err))
		}
	}()
}

// ExportIncident is the explicit-request write operation exposed to
// collaborators (spec.md §6). It captures whatever window is available
// immediately rather than waiting for a post-divergence margin.
func (p *Pipeline) ExportIncident(symbol string) (string, error) {
	return p.exportIncident(incident.ReasonManualRequest, symbol, time.Now().UTC(), checksum.Result{})
}

func (p *Pipeline) exportIncident(reason incident.Reason, symbol string, at time.Time, result checksum.Result) (string, error) {
	if p.bundler == nil {
		return "", fmt.Errorf("incident export: no bundler configured")
	}

	var snap orderbook.Snapshot
	if book, ok := p.Book(symbol); ok {
		snap = book.TakeSnapshot()
	} else {
		snap.Symbol = symbol
	}
	desc, _ := p.descriptor(symbol)

	var frames []recorder.Record
	if p.frames != nil {
		frames = p.frames.Window(symbol, at.Add(-p.cfg.IncidentPreWindow), at.Add(p.cfg.IncidentPostWindow))
	}

	in := incident.Input{
		Reason:     reason,
		Symbol:     symbol,
		Config:     p.cfg.IncidentConfigSnapshot,
		Health:     p.health.Overall(),
		Frames:     frames,
		Book:       incident.NewOrderbookSnapshot(snap.Symbol, snap.Bids, snap.Asks),
		Checksum:   result,
		Instrument: desc,
	}
	path, err := p.bundler.Export(in)
	if err != nil {
		return "", err
	}
	p.health.Events().Push(health.EventIncidentCaptured, symbol, path)
	return path, nil
}

func envelopeSymbol(env wire.Envelope) string {
	switch e := env.(type) {
	case wire.Status:
		return e.Symbol
	case wire.BookSnapshot:
		return e.Symbol
	case wire.BookUpdate:
		return e.Symbol
	case wire.Ack:
		return e.Symbol
	default:
		return ""
	}
}
