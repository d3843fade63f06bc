package host

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

// OperationFunc answers one request descriptor. The returned value becomes
// the response at the descriptor's position.
type OperationFunc func(ctx context.Context, d protocol.RequestDescriptor) (any, error)

// Registry maps interface/operation pairs to handlers. Lookups ignore case:
// pages in the wild use both "getColData" and "GetColData".
type Registry struct {
	mu  sync.RWMutex
	ops map[string]OperationFunc
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]OperationFunc)}
}

func opKey(iface, op string) string {
	return strings.ToLower(iface) + "." + strings.ToLower(op)
}

func (r *Registry) Register(iface, op string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[opKey(iface, op)] = fn
}

func (r *Registry) Lookup(iface, op string) (OperationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ops[opKey(iface, op)]
	return fn, ok
}

// Dispatch runs the handler for d. Unknown operations answer null and
// handler failures answer {"error": "..."} so positions stay aligned.
func (r *Registry) Dispatch(ctx context.Context, d protocol.RequestDescriptor) (json.RawMessage, error) {
	fn, ok := r.Lookup(d.Interface, d.Operation)
	if !ok {
		return json.RawMessage("null"), nil
	}
	v, err := fn(ctx, d)
	if err != nil {
		return protocol.MustJSON(map[string]string{"error": err.Error()}), err
	}
	return protocol.MustJSON(v), nil
}
