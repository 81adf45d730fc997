package localapi

import "net/http"

func (s *Server) registerSystemRoutes() {
	s.mux.HandleFunc("/api/v1/system/capabilities", s.handleSystemCapabilities)
}

func (s *Server) handleSystemCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondNotImplemented(w, r)
		return
	}
	respondOK(w, map[string]any{
		"agent":         s.deps.AgentLoopRunner != nil,
		"config":        s.deps.ConfigStore != nil,
		"store":         s.deps.StoreBackend,
		"auth_required": s.deps.APIToken != "",
		"ws_clients":    s.hub.ClientCount(),
	})
}
