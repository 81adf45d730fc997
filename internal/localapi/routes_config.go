package localapi

import (
	"net/http"

	"echodesk/cli/internal/global"
)

type agentConfigResponse struct {
	Endpoint      string `json:"endpoint"`
	Model         string `json:"model"`
	MaxIterations int    `json:"max_iterations"`
	Enabled       bool   `json:"enabled"`
}

type panelConfigResponse struct {
	PollIntervalMS int `json:"poll_interval_ms"`
}

type configResponse struct {
	LocalPort int                 `json:"local_port"`
	Agent     agentConfigResponse `json:"agent"`
	Panel     panelConfigResponse `json:"panel"`
}

type configPatchRequest struct {
	Agent *struct {
		Endpoint      *string `json:"endpoint"`
		Model         *string `json:"model"`
		MaxIterations *int    `json:"max_iterations"`
	} `json:"agent"`
	Panel *struct {
		PollIntervalMS *int `json:"poll_interval_ms"`
	} `json:"panel"`
}

func (s *Server) buildConfigResponse(cfg global.GlobalConfig) configResponse {
	return configResponse{
		LocalPort: cfg.LocalPort,
		Agent: agentConfigResponse{
			Endpoint:      cfg.Agent.Endpoint,
			Model:         cfg.Agent.Model,
			MaxIterations: cfg.Agent.MaxIterations,
			Enabled:       s.deps.AgentLoopRunner != nil,
		},
		Panel: panelConfigResponse{PollIntervalMS: cfg.Panel.PollIntervalMS},
	}
}

func (s *Server) registerConfigRoutes() {
	s.mux.HandleFunc("/api/v1/config", s.handleConfig)
}

// handleConfig reads or patches config.toml. Agent changes apply on the next
// start of the server.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigStore == nil {
		respondNotImplemented(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.deps.ConfigStore.LoadOrInit()
		if err != nil {
			respondError(w, http.StatusInternalServerError, StatusUnknownError, err.Error())
			return
		}
		respondOK(w, s.buildConfigResponse(cfg))
	case http.MethodPut, http.MethodPatch:
		var req configPatchRequest
		if err := decodeJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
			return
		}
		cfg, err := s.deps.ConfigStore.LoadOrInit()
		if err != nil {
			respondError(w, http.StatusInternalServerError, StatusUnknownError, err.Error())
			return
		}
		if req.Agent != nil {
			if req.Agent.Endpoint != nil {
				cfg.Agent.Endpoint = *req.Agent.Endpoint
			}
			if req.Agent.Model != nil {
				cfg.Agent.Model = *req.Agent.Model
			}
			if req.Agent.MaxIterations != nil {
				if *req.Agent.MaxIterations < 1 {
					respondError(w, http.StatusBadRequest, StatusInvalidInput, "agent.max_iterations must be positive")
					return
				}
				cfg.Agent.MaxIterations = *req.Agent.MaxIterations
			}
		}
		if req.Panel != nil && req.Panel.PollIntervalMS != nil {
			if *req.Panel.PollIntervalMS < 1 {
				respondError(w, http.StatusBadRequest, StatusInvalidInput, "panel.poll_interval_ms must be positive")
				return
			}
			cfg.Panel.PollIntervalMS = *req.Panel.PollIntervalMS
		}
		if err := s.deps.ConfigStore.Save(cfg); err != nil {
			respondError(w, http.StatusInternalServerError, StatusUnknownError, err.Error())
			return
		}
		respondOK(w, s.buildConfigResponse(global.NormalizeConfig(cfg)))
	default:
		respondNotImplemented(w, r)
	}
}
