package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleCeremonies handles GET /api/v1/ceremonies
func (s *Server) handleCeremonies(w http.ResponseWriter, r *http.Request) {
	if s.ceremonies == nil {
		s.writeJSON(w, http.StatusOK, []CeremonyResponse{})
		return
	}
	statuses := s.ceremonies.List()
	out := make([]CeremonyResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, CeremonyResponse{Status: st})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleCeremony handles GET /api/v1/ceremonies/{sessionId}
func (s *Server) handleCeremony(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if s.ceremonies == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("ceremony %s not found", sessionID))
		return
	}
	st, ok := s.ceremonies.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("ceremony %s not found", sessionID))
		return
	}

	resp := CeremonyResponse{Status: st}
	if s.broadcasts != nil {
		records, err := s.broadcasts.ListBroadcasts(sessionID)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to list broadcasts")
			s.writeError(w, http.StatusInternalServerError, "failed to list broadcasts")
			return
		}
		for _, rec := range records {
			resp.Broadcasts = append(resp.Broadcasts, BroadcastView{
				Chain:     rec.Chain,
				Kind:      rec.Kind,
				TxHash:    rec.TxHash,
				Status:    rec.Status,
				Error:     rec.ErrorMsg,
				CreatedAt: rec.CreatedAt,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleVaults handles GET /api/v1/vaults
func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	out := []VaultView{}
	if s.vaults != nil {
		vaults, err := s.vaults.ListVaults()
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to list vaults")
			s.writeError(w, http.StatusInternalServerError, "failed to list vaults")
			return
		}
		for _, v := range vaults {
			out = append(out, VaultView{
				Name:          v.Name,
				PubKeyECDSA:   v.PubKeyECDSA,
				PubKeyEdDSA:   v.PubKeyEdDSA,
				LocalPartyID:  v.LocalPartyID,
				Signers:       v.Signers,
				ResharePrefix: v.ResharePrefix,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleChains handles GET /api/v1/chains
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	chains := []string{}
	if s.chains != nil {
		chains = s.chains.Chains()
	}
	s.writeJSON(w, http.StatusOK, chains)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
