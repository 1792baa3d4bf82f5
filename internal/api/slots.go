/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/models"
)

// Tenant provisioning endpoints. Thin adapters over gorm; playback only
// ever references slots created here.

type organizationRequest struct {
	Name string `json:"name"`
}

func (a *API) handleOrganizationCreate(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	org := models.Organization{ID: uuid.NewString(), Name: req.Name}
	if err := a.db.WithContext(r.Context()).Create(&org).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationGet(w http.ResponseWriter, r *http.Request) {
	var org models.Organization
	err := a.db.WithContext(r.Context()).First(&org, "id = ?", chi.URLParam(r, "orgID")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, org)
}

func (a *API) handleOrganizationList(w http.ResponseWriter, r *http.Request) {
	var orgs []models.Organization
	if err := a.db.WithContext(r.Context()).Order("name ASC").Find(&orgs).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, orgs)
}

type slotRequest struct {
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Location       string `json:"location"`
}

func (a *API) handleSlotCreate(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "organizationId and name are required")
		return
	}

	var org models.Organization
	if err := a.db.WithContext(r.Context()).First(&org, "id = ?", req.OrganizationID).Error; err != nil {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}

	slot := models.DisplaySlot{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Location:       req.Location,
	}
	if err := a.db.WithContext(r.Context()).Create(&slot).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, slot)
}

func (a *API) handleSlotGet(w http.ResponseWriter, r *http.Request) {
	var slot models.DisplaySlot
	err := a.db.WithContext(r.Context()).First(&slot, "id = ?", chi.URLParam(r, "slotID")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "display slot not found")
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, slot)
}

func (a *API) handleSlotList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Order("name ASC")
	if orgID := r.URL.Query().Get("organizationId"); orgID != "" {
		q = q.Where("organization_id = ?", orgID)
	}
	var slots []models.DisplaySlot
	if err := q.Find(&slots).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, slots)
}

func (a *API) handleSlotUpdate(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var slot models.DisplaySlot
	err := a.db.WithContext(r.Context()).First(&slot, "id = ?", chi.URLParam(r, "slotID")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "display slot not found")
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	if req.Name != "" {
		slot.Name = req.Name
	}
	if req.Location != "" {
		slot.Location = req.Location
	}
	if err := a.db.WithContext(r.Context()).Save(&slot).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, slot)
}

func (a *API) handleSlotDelete(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")

	// Unbind any live engine before the row disappears.
	a.manager.RemoveEngine(slotID)

	if err := a.db.WithContext(r.Context()).Delete(&models.DisplaySlot{}, "id = ?", slotID).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleSlotsActive lists slot ids with playback in progress.
func (a *API) handleSlotsActive(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"slotIds": a.manager.ActiveSlots()})
}
