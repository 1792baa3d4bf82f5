/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signcast/signcast/internal/action"
	"github.com/signcast/signcast/internal/auth"
	"github.com/signcast/signcast/internal/models"
)

// handleActionExecute starts playback of a media list on a display slot.
func (a *API) handleActionExecute(w http.ResponseWriter, r *http.Request) {
	var req action.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := a.actions.Execute(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, serializeExecution(exec))
}

type stopRequest struct {
	StoppedBy string `json:"stoppedBy"`
}

func (a *API) handleActionStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.StoppedBy == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			req.StoppedBy = "user:" + claims.UserID
		}
	}

	exec, err := a.actions.Stop(r.Context(), chi.URLParam(r, "executionID"), req.StoppedBy)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, serializeExecution(exec))
}

func (a *API) handleActionPause(w http.ResponseWriter, r *http.Request) {
	exec, err := a.actions.Pause(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, serializeExecution(exec))
}

func (a *API) handleActionResume(w http.ResponseWriter, r *http.Request) {
	exec, err := a.actions.Resume(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, serializeExecution(exec))
}

func (a *API) handleActionSkip(w http.ResponseWriter, r *http.Request) {
	exec, err := a.actions.SkipToNext(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, serializeExecution(exec))
}

func (a *API) handleActionGet(w http.ResponseWriter, r *http.Request) {
	exec, err := a.actions.FindByID(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, serializeExecution(exec))
}

func (a *API) handleActionList(w http.ResponseWriter, r *http.Request) {
	execs, err := a.actions.List(r.Context(),
		r.URL.Query().Get("organizationId"),
		r.URL.Query().Get("displaySlotId"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	result := make([]map[string]any, len(execs))
	for i := range execs {
		result[i] = serializeExecution(&execs[i])
	}
	writeData(w, http.StatusOK, result)
}

// handleSlotStatus reports a slot's reconciled playback state. Slots
// without a bound engine report null state and executionId.
func (a *API) handleSlotStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.actions.SlotStatus(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func serializeExecution(exec *models.ActionExecution) map[string]any {
	result := map[string]any{
		"id":             exec.ID,
		"organizationId": exec.OrganizationID,
		"sourceAppId":    exec.SourceAppID,
		"mediaListId":    exec.MediaListID,
		"displaySlotId":  exec.DisplaySlotID,
		"status":         exec.Status,
		"startedAt":      exec.StartedAt.Format(time.RFC3339),
		"createdAt":      exec.CreatedAt.Format(time.RFC3339),
	}
	if exec.PausedAt != nil {
		result["pausedAt"] = exec.PausedAt.Format(time.RFC3339)
	}
	if exec.StoppedAt != nil {
		result["stoppedAt"] = exec.StoppedAt.Format(time.RFC3339)
	}
	if exec.StoppedBy != "" {
		result["stoppedBy"] = exec.StoppedBy
	}
	if exec.SupersededBy != "" {
		result["supersededBy"] = exec.SupersededBy
	}
	if exec.Error != "" {
		result["error"] = exec.Error
	}
	return result
}
