package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// ErrTransportClosed is returned when sending on a closed transport.
var ErrTransportClosed = errors.New("bridge: transport closed")

// Transport moves opaque messages from one context to the other. Payloads are
// copied across the boundary; neither side may retain the other's buffers.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Subscribe(handler func(data []byte)) (unsubscribe func(), err error)
}

// Pipe connects a host endpoint and a renderer endpoint in-process. Each
// endpoint delivers inbound messages one at a time from its own goroutine,
// in the order they were sent.
type Pipe struct {
	Host     *PipeEndpoint
	Renderer *PipeEndpoint
}

// NewPipe creates a connected pair of endpoints with the given inbox buffer.
func NewPipe(buffer int) *Pipe {
	host := newPipeEndpoint(buffer)
	renderer := newPipeEndpoint(buffer)
	host.peer = renderer
	renderer.peer = host
	host.start()
	renderer.start()
	return &Pipe{Host: host, Renderer: renderer}
}

// Close stops both endpoints and waits for their dispatch loops to exit.
func (p *Pipe) Close() {
	p.Host.close()
	p.Renderer.close()
}

// PipeEndpoint is one side of a Pipe.
type PipeEndpoint struct {
	peer  *PipeEndpoint
	inbox chan []byte
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu       sync.RWMutex
	handlers map[int]func([]byte)
	nextID   int
}

func newPipeEndpoint(buffer int) *PipeEndpoint {
	if buffer < 0 {
		buffer = 0
	}
	return &PipeEndpoint{
		inbox:    make(chan []byte, buffer),
		done:     make(chan struct{}),
		handlers: make(map[int]func([]byte)),
	}
}

func (e *PipeEndpoint) start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.done:
				return
			case msg := <-e.inbox:
				e.dispatch(msg)
			}
		}
	}()
}

func (e *PipeEndpoint) dispatch(msg []byte) {
	e.mu.RLock()
	handlers := make([]func([]byte), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (e *PipeEndpoint) close() {
	e.once.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

// Send copies data into the peer's inbox.
func (e *PipeEndpoint) Send(ctx context.Context, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case <-e.done:
		return ErrTransportClosed
	case <-e.peer.done:
		return ErrTransportClosed
	default:
	}
	select {
	case e.peer.inbox <- cp:
		return nil
	case <-e.peer.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for every inbound message.
func (e *PipeEndpoint) Subscribe(handler func(data []byte)) (func(), error) {
	if handler == nil {
		return nil, errors.New("bridge: handler is required")
	}
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}, nil
}

// NATSTransport carries bridge messages over a NATS connection. It publishes
// on sendSubject and listens on recvSubject; the host and the renderer use
// mirrored subject pairs.
type NATSTransport struct {
	conn        *nats.Conn
	sendSubject string
	recvSubject string
}

// NewNATSTransport wires a transport over an established connection.
func NewNATSTransport(conn *nats.Conn, sendSubject, recvSubject string) *NATSTransport {
	return &NATSTransport{conn: conn, sendSubject: sendSubject, recvSubject: recvSubject}
}

// Send publishes data. NATS publish is fire-and-forget, so the context is
// only checked before publishing.
func (t *NATSTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bridge: context done before publish: %w", err)
	}
	if t.conn == nil || t.conn.IsClosed() {
		return ErrTransportClosed
	}
	if limit := t.conn.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("bridge: message of %d bytes exceeds server max payload %d", len(data), limit)
	}
	if err := t.conn.Publish(t.sendSubject, data); err != nil {
		return fmt.Errorf("bridge: publish %s: %w", t.sendSubject, err)
	}
	return nil
}

// Subscribe listens on the receive subject.
func (t *NATSTransport) Subscribe(handler func(data []byte)) (func(), error) {
	if t.conn == nil {
		return nil, ErrTransportClosed
	}
	sub, err := t.conn.Subscribe(t.recvSubject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribe %s: %w", t.recvSubject, err)
	}
	return func() {
		_ = sub.Unsubscribe()
	}, nil
}

var (
	_ Transport = (*PipeEndpoint)(nil)
	_ Transport = (*NATSTransport)(nil)
)
