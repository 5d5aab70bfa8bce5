package server

import (
	"encoding/json"
	"net/http"

	"github.com/runguard-ai/runguard/internal/engine"
	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateFleet(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	var req CreateFleetReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}
	if err := validateGuardConfig(req.GuardConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid guard_config: " + err.Error()})
		return
	}

	fleet, apiKey, err := d.Store.CreateFleet(r.Context(), req.Name, req.GuardConfig)
	if err != nil {
		d.Logger.Error("failed to create fleet", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create fleet"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateFleetResp{
		ID:           fleet.ID,
		Name:         fleet.Name,
		APIKey:       apiKey,
		APIKeyPrefix: fleet.APIKeyPrefix,
		GuardConfig:  fleet.GuardConfig,
		CreatedAt:    fleet.CreatedAt,
	})
}

func (d *Dependencies) handleListFleets(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	fleets, err := d.Store.ListFleets(r.Context())
	if err != nil {
		d.Logger.Error("failed to list fleets", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list fleets"})
		return
	}

	resp := make([]FleetResp, 0, len(fleets))
	for _, f := range fleets {
		resp = append(resp, FleetResp{
			ID:           f.ID,
			Name:         f.Name,
			APIKeyPrefix: f.APIKeyPrefix,
			GuardConfig:  f.GuardConfig,
			CreatedAt:    f.CreatedAt,
			UpdatedAt:    f.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleUpdateGuardConfig(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	var req UpdateGuardConfigReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := validateGuardConfig(req.GuardConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid guard_config: " + err.Error()})
		return
	}

	fleet, err := d.Store.UpdateGuardConfig(r.Context(), r.PathValue("fleet_id"), req.GuardConfig)
	if err != nil {
		d.Logger.Error("failed to update guard config", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update guard config"})
		return
	}
	if fleet == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Fleet not found"})
		return
	}

	writeJSON(w, http.StatusOK, FleetResp{
		ID:           fleet.ID,
		Name:         fleet.Name,
		APIKeyPrefix: fleet.APIKeyPrefix,
		GuardConfig:  fleet.GuardConfig,
		CreatedAt:    fleet.CreatedAt,
		UpdatedAt:    fleet.UpdatedAt,
	})
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	fleet, apiKey, err := d.Store.RotateAPIKey(r.Context(), r.PathValue("fleet_id"))
	if err != nil {
		d.Logger.Error("failed to rotate key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate API key"})
		return
	}

	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       apiKey,
		APIKeyPrefix: fleet.APIKeyPrefix,
	})
}

// validateGuardConfig rejects malformed overrides before they land in the
// fleets table and poison every future run.
func validateGuardConfig(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var o engine.Overrides
	return json.Unmarshal(raw, &o)
}
