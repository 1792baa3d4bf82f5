/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signcast/signcast/internal/schedule"
)

func (a *API) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var in schedule.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sched, err := a.schedules.Create(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sched)
}

func (a *API) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var in schedule.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sched, err := a.schedules.Update(r.Context(), chi.URLParam(r, "scheduleID"), in)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, sched)
}

func (a *API) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	sched, err := a.schedules.FindByID(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, sched)
}

func (a *API) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.schedules.Delete(r.Context(), chi.URLParam(r, "scheduleID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleScheduleActivate(w http.ResponseWriter, r *http.Request) {
	sched, err := a.schedules.SetActive(r.Context(), chi.URLParam(r, "scheduleID"), true)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, sched)
}

func (a *API) handleScheduleDeactivate(w http.ResponseWriter, r *http.Request) {
	sched, err := a.schedules.SetActive(r.Context(), chi.URLParam(r, "scheduleID"), false)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, sched)
}

func (a *API) handleSchedulesForSlot(w http.ResponseWriter, r *http.Request) {
	scheds, err := a.schedules.FindByDisplaySlotID(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, scheds)
}

func (a *API) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	filter := schedule.ListFilter{
		OrganizationID: r.URL.Query().Get("organizationId"),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("isActive"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}

	scheds, err := a.schedules.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, scheds)
}
