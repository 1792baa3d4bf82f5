/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signcast/signcast/internal/media"
)

type mediaListRequest struct {
	OrganizationID string            `json:"organizationId"`
	Name           string            `json:"name"`
	Loop           *bool             `json:"loop"`
	Items          []media.ItemInput `json:"items"`
}

func (a *API) handleMediaListCreate(w http.ResponseWriter, r *http.Request) {
	var req mediaListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "organizationId and name are required")
		return
	}

	loop := true
	if req.Loop != nil {
		loop = *req.Loop
	}

	list, err := a.media.CreateList(r.Context(), req.OrganizationID, req.Name, loop, req.Items)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, list)
}

func (a *API) handleMediaListGet(w http.ResponseWriter, r *http.Request) {
	list, err := a.media.FindList(r.Context(), chi.URLParam(r, "mediaListID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (a *API) handleMediaListList(w http.ResponseWriter, r *http.Request) {
	lists, err := a.media.ListLists(r.Context(),
		r.URL.Query().Get("organizationId"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, lists)
}

func (a *API) handleMediaListUpdate(w http.ResponseWriter, r *http.Request) {
	var req mediaListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	loop := true
	if req.Loop != nil {
		loop = *req.Loop
	}

	list, err := a.media.UpdateList(r.Context(), chi.URLParam(r, "mediaListID"), req.Name, loop, req.Items)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (a *API) handleMediaListDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.media.DeleteList(r.Context(), chi.URLParam(r, "mediaListID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleMediaItemUpload stores an uploaded asset for a media item.
func (a *API) handleMediaItemUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	item, err := a.media.StoreAsset(r.Context(), chi.URLParam(r, "itemID"), header.Filename, file)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, item)
}
