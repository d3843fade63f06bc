package bridge

import (
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

// OnUpdate installs the handler for one observable. A nil handler removes it.
func (b *Bridge) OnUpdate(observable string, h UpdateHandler) {
	b.updMu.Lock()
	defer b.updMu.Unlock()
	if h == nil {
		delete(b.updates, observable)
		return
	}
	b.updates[observable] = h
}

// Update dispatches a host notification. Observables without a handler are
// dropped. It reports whether a handler ran.
func (b *Bridge) Update(n protocol.Notification) bool {
	b.updMu.RLock()
	h, ok := b.updates[n.Observable]
	b.updMu.RUnlock()
	if !ok {
		b.logger.Debug("no update handler", zap.String("observable", n.Observable), zap.String("event", n.Event))
		return false
	}
	h(n)
	return true
}

// UpdateJSON decodes and dispatches a notification; malformed input is
// dropped.
func (b *Bridge) UpdateJSON(data []byte) bool {
	var n protocol.Notification
	if err := protocol.Unmarshal(data, &n); err != nil {
		b.logger.Debug("drop malformed update", zap.Error(err))
		return false
	}
	return b.Update(n)
}
