package webview

import (
	"fmt"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

// ResponseScript renders the call that hands env to the page bridge.
func ResponseScript(env protocol.ResponseEnvelope) (string, error) {
	b, err := protocol.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode response %s: %w", env.CallbackID, err)
	}
	return fmt.Sprintf("gda.response(%s);", b), nil
}

// UpdateScript renders the call that pushes n into the page. Ready maps to
// the page's readyToInit hook, which pages may leave undefined.
func UpdateScript(n protocol.Notification) (string, error) {
	b, err := protocol.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode update %s: %w", n.Observable, err)
	}
	if n.Observable == protocol.ObservableReady {
		return fmt.Sprintf("if (window.gda && typeof gda.readyToInit === 'function') { gda.readyToInit(%s); }", b), nil
	}
	return fmt.Sprintf("gda.update(%s);", b), nil
}
