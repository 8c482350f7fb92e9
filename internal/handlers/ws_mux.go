package handlers

import (
	"net/http"
	"strings"
)

// UpgradeMux demultiplexes WebSocket upgrade requests between the protocols
// sharing one listener. Routing happens purely on the request path, before
// any protocol-specific bytes flow; a path matching no declared prefix is
// refused without an upgrade.
type UpgradeMux struct {
	routes []upgradeRoute
}

type upgradeRoute struct {
	prefix  string
	handler http.Handler
}

func NewUpgradeMux() *UpgradeMux {
	return &UpgradeMux{}
}

// Handle declares a path prefix for one protocol. Earlier declarations win
// when prefixes overlap.
func (m *UpgradeMux) Handle(prefix string, handler http.Handler) {
	m.routes = append(m.routes, upgradeRoute{prefix: prefix, handler: handler})
}

func (m *UpgradeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range m.routes {
		if matchesPrefix(r.URL.Path, route.prefix) {
			route.handler.ServeHTTP(w, r)
			return
		}
	}
	http.Error(w, "unknown protocol endpoint", http.StatusNotFound)
}

// matchesPrefix accepts the prefix itself and any path nested under it, but
// not a longer sibling segment ("/ws/session" does not match "/ws/sessions").
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
