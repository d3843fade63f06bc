// Package bridge implements the page side of the host bridge: it correlates
// requests written into the page title with the responses the host later
// injects, and dispatches uncorrelated update notifications.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

const (
	DefaultPrefix = "resp_cb_id_"
	DefaultSeed   = 100
)

// Transport publishes a page title to the host. The host watches title
// changes and parses the JSON it finds there.
type Transport interface {
	SetTitle(ctx context.Context, title string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, title string) error

func (f TransportFunc) SetTitle(ctx context.Context, title string) error { return f(ctx, title) }

// Handler receives the responses for one request, aligned with the request
// descriptors.
type Handler func(responses []json.RawMessage)

// UpdateHandler receives host notifications for one observable.
type UpdateHandler func(n protocol.Notification)

// Bridge owns the callback id counter and the pending registrations of one
// page session.
type Bridge struct {
	transport Transport
	logger    *zap.Logger
	prefix    string

	mu      sync.Mutex
	next    uint64
	pending map[string]Handler

	updMu   sync.RWMutex
	updates map[string]UpdateHandler
}

type Option func(*Bridge)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPrefix sets the callback id prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = prefix }
}

// WithSeed sets the first counter value.
func WithSeed(seed uint64) Option {
	return func(b *Bridge) { b.next = seed }
}

func New(transport Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		logger:    zap.NewNop(),
		prefix:    DefaultPrefix,
		next:      DefaultSeed,
		pending:   make(map[string]Handler),
		updates:   make(map[string]UpdateHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bridge")
	return b
}

// NextCallbackID returns a token distinct from every token this bridge has
// issued before.
func (b *Bridge) NextCallbackID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextIDLocked()
}

func (b *Bridge) nextIDLocked() string {
	id := b.prefix + strconv.FormatUint(b.next, 10)
	b.next++
	return id
}

// IssueRequests registers handler under a fresh callback id and publishes the
// request envelope. A host that never answers leaves the registration
// pending; use Cancel or Call to bound that.
func (b *Bridge) IssueRequests(ctx context.Context, requests []any, handler Handler) (string, error) {
	if requests == nil {
		requests = []any{}
	}

	b.mu.Lock()
	id := b.nextIDLocked()
	title, err := protocol.EncodeRequest(id, requests)
	if err != nil {
		b.mu.Unlock()
		return "", fmt.Errorf("encode request %s: %w", id, err)
	}
	b.pending[id] = handler
	b.mu.Unlock()

	if err := b.transport.SetTitle(ctx, title); err != nil {
		b.Cancel(id)
		return "", fmt.Errorf("publish request %s: %w", id, err)
	}
	b.logger.Debug("request issued", zap.String("callback_id", id), zap.Int("requests", len(requests)))
	return id, nil
}

// DeliverResponse hands env to the handler registered under its callback id
// and drops the registration. Empty or unknown ids are ignored: the request
// is assumed cancelled, superseded or already answered. It reports whether a
// handler ran.
func (b *Bridge) DeliverResponse(env protocol.ResponseEnvelope) bool {
	if env.CallbackID == "" {
		return false
	}

	b.mu.Lock()
	handler, ok := b.pending[env.CallbackID]
	if ok {
		delete(b.pending, env.CallbackID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("response without pending callback", zap.String("callback_id", env.CallbackID))
		return false
	}
	if handler != nil {
		handler(env.Responses)
	}
	return true
}

// DeliverResponseJSON decodes a response envelope and delivers it. Malformed
// input is dropped.
func (b *Bridge) DeliverResponseJSON(data []byte) bool {
	var env protocol.ResponseEnvelope
	if err := protocol.Unmarshal(data, &env); err != nil {
		b.logger.Debug("drop malformed response", zap.Error(err))
		return false
	}
	return b.DeliverResponse(env)
}

// Cancel forgets a pending registration. It reports whether one existed.
func (b *Bridge) Cancel(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// Pending returns the number of registrations awaiting a response.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Call issues requests and blocks until the host answers or ctx is done. On
// ctx expiry the registration is cancelled so a late response is ignored.
func (b *Bridge) Call(ctx context.Context, requests []any) ([]json.RawMessage, error) {
	done := make(chan []json.RawMessage, 1)
	id, err := b.IssueRequests(ctx, requests, func(responses []json.RawMessage) {
		done <- responses
	})
	if err != nil {
		return nil, err
	}

	select {
	case responses := <-done:
		return responses, nil
	case <-ctx.Done():
		if !b.Cancel(id) {
			// Delivery won the race; the handler already ran.
			return <-done, nil
		}
		return nil, ctx.Err()
	}
}

// Notify tells the host about a page-side state change.
func (b *Bridge) Notify(ctx context.Context, n protocol.Notification) error {
	title, err := protocol.EncodeNotify(n)
	if err != nil {
		return fmt.Errorf("encode notify: %w", err)
	}
	return b.transport.SetTitle(ctx, title)
}

// Close asks the host to close the view.
func (b *Bridge) Close(ctx context.Context) error {
	return b.transport.SetTitle(ctx, protocol.EncodeClose())
}
