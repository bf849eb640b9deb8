// Package bridge correlates slice requests sent from the host context with
// the tile responses coming back from the rendering context.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assetslicer/internal/domain"
	"assetslicer/internal/slicing"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultCleanupAfter = 16 * time.Second
)

// Failure is the non-tile outcome of a request. Err carries the taxonomy
// sentinel (timeout, decode, generic bridge failure).
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return fmt.Sprintf("%v: %s", f.Err, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Options configures a Bridge.
type Options struct {
	Timeout      time.Duration
	CleanupAfter time.Duration
	Logger       *zerolog.Logger
	// NewID generates correlation ids. Defaults to uuid.NewString.
	NewID func() string
}

// Bridge is the host side of the cross-context protocol. Each request owns one
// listener slot that is removed exactly once, whichever of response, timeout,
// cancellation or cleanup happens first.
type Bridge struct {
	transport    Transport
	logger       zerolog.Logger
	timeout      time.Duration
	cleanupAfter time.Duration
	newID        func() string

	mu          sync.Mutex
	listeners   map[string]*listener
	seq         uint64
	closed      bool
	unsubscribe func()
}

type outcome struct {
	tiles []domain.Tile
	err   error
}

type listener struct {
	id      string
	name    string
	seq     uint64
	result  chan outcome
	once    sync.Once
	timer   *time.Timer
	cleanup *time.Timer
}

// New subscribes to the transport's inbound side and returns a ready Bridge.
func New(transport Transport, opts Options) (*Bridge, error) {
	if transport == nil {
		return nil, errors.New("bridge: transport is required")
	}
	b := &Bridge{
		transport:    transport,
		logger:       zerolog.Nop(),
		timeout:      opts.Timeout,
		cleanupAfter: opts.CleanupAfter,
		newID:        opts.NewID,
		listeners:    make(map[string]*listener),
	}
	if opts.Logger != nil {
		b.logger = opts.Logger.With().Str("component", "bridge").Logger()
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.cleanupAfter <= b.timeout {
		b.cleanupAfter = b.timeout + time.Second
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	unsubscribe, err := transport.Subscribe(b.handle)
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribe: %w", err)
	}
	b.unsubscribe = unsubscribe
	return b, nil
}

// RequestTiles ships asset to the rendering context and waits for its tiles.
// Exactly one message is sent and exactly one listener is registered and
// later removed, regardless of the outcome. Failures are returned as
// *Failure.
func (b *Bridge) RequestTiles(ctx context.Context, asset domain.AssetDescriptor, strategy slicing.Strategy) ([]domain.Tile, error) {
	id := b.newID()
	payload, err := json.Marshal(NewSliceRequest(id, asset, strategy))
	if err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("encode request: %v", err), Err: domain.ErrBridgeFailure}
	}

	l := &listener{id: id, name: asset.Name, result: make(chan outcome, 1)}
	if err := b.register(l); err != nil {
		return nil, err
	}
	log := b.logger.With().Str("request_id", id).Str("asset", asset.Name).Logger()
	log.Debug().Int("tiles", strategy.TotalTiles).Int("payload_bytes", len(payload)).Msg("bridge: sending slice request")

	if err := b.transport.Send(ctx, payload); err != nil {
		b.resolve(l, outcome{err: &Failure{Reason: fmt.Sprintf("send request: %v", err), Err: domain.ErrBridgeFailure}})
	}

	select {
	case out := <-l.result:
		return out.tiles, out.err
	case <-ctx.Done():
		b.resolve(l, outcome{err: &Failure{Reason: "request cancelled", Err: ctx.Err()}})
		out := <-l.result
		return out.tiles, out.err
	}
}

// Pending reports how many listeners are currently registered.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Close unsubscribes from the transport and fails every pending request.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := make([]*listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		pending = append(pending, l)
	}
	unsubscribe := b.unsubscribe
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, l := range pending {
		b.resolve(l, outcome{err: &Failure{Reason: "bridge closed", Err: domain.ErrBridgeFailure}})
	}
}

func (b *Bridge) register(l *listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &Failure{Reason: "bridge closed", Err: domain.ErrBridgeFailure}
	}
	b.seq++
	l.seq = b.seq
	b.listeners[l.id] = l
	name, timeout := l.name, b.timeout
	l.timer = time.AfterFunc(timeout, func() {
		reason := fmt.Sprintf("no response for %q within %s", name, timeout)
		if b.resolve(l, outcome{err: &Failure{Reason: reason, Err: domain.ErrBridgeTimeout}}) {
			b.logger.Warn().Str("request_id", l.id).Str("asset", name).Msg("bridge: request timed out")
		}
	})
	l.cleanup = time.AfterFunc(b.cleanupAfter, func() {
		b.deregister(l)
	})
	return nil
}

// resolve delivers out to the waiting caller once; later calls are no-ops.
func (b *Bridge) resolve(l *listener, out outcome) bool {
	resolved := false
	l.once.Do(func() {
		b.deregister(l)
		l.result <- out
		resolved = true
	})
	return resolved
}

func (b *Bridge) deregister(l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.listeners[l.id]; ok && cur == l {
		delete(b.listeners, l.id)
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.cleanup != nil {
		l.cleanup.Stop()
	}
}

// lookup finds the listener a response belongs to. Responses without a
// request id fall back to matching on the asset name, oldest request first.
func (b *Bridge) lookup(resp SliceResponse) *listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	if resp.RequestID != "" {
		return b.listeners[resp.RequestID]
	}
	var match *listener
	for _, l := range b.listeners {
		if l.name != resp.ImageName {
			continue
		}
		if match == nil || l.seq < match.seq {
			match = l
		}
	}
	return match
}

func (b *Bridge) handle(data []byte) {
	typ, err := MessageType(data)
	if err != nil {
		b.logger.Warn().Err(err).Msg("bridge: dropping malformed message")
		return
	}
	if typ != TypeSliceResponse {
		return
	}
	var resp SliceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		b.logger.Warn().Err(err).Msg("bridge: dropping undecodable slice response")
		return
	}

	l := b.lookup(resp)
	if l == nil {
		b.logger.Debug().
			Str("request_id", resp.RequestID).
			Str("asset", resp.ImageName).
			Msg("bridge: ignoring response with no listener")
		return
	}

	switch {
	case !resp.Success:
		b.resolve(l, outcome{err: responseFailure(resp)})
	case len(resp.Slices) == 0:
		b.resolve(l, outcome{err: &Failure{Reason: "renderer returned no tiles", Err: domain.ErrBridgeFailure}})
	default:
		b.resolve(l, outcome{tiles: resp.Tiles()})
	}
}

func responseFailure(resp SliceResponse) *Failure {
	reason := resp.Error
	if reason == "" {
		reason = "renderer reported failure"
	}
	switch resp.ErrorKind {
	case ErrorKindDecode:
		return &Failure{Reason: reason, Err: domain.ErrWorkerDecode}
	case ErrorKindEncode:
		return &Failure{Reason: reason, Err: domain.ErrTileEncode}
	default:
		return &Failure{Reason: reason, Err: domain.ErrBridgeFailure}
	}
}
