/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/action"
	"github.com/signcast/signcast/internal/audit"
	"github.com/signcast/signcast/internal/auth"
	"github.com/signcast/signcast/internal/engine"
	"github.com/signcast/signcast/internal/events"
	"github.com/signcast/signcast/internal/media"
	"github.com/signcast/signcast/internal/models"
	"github.com/signcast/signcast/internal/schedule"
	"github.com/signcast/signcast/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	actions   *action.Service
	schedules *schedule.Service
	media     *media.Service
	manager   *engine.Manager
	auditSvc  *audit.Service
	bus       *events.Bus
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, actions *action.Service, schedules *schedule.Service, mediaSvc *media.Service, manager *engine.Manager, auditSvc *audit.Service, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		actions:   actions,
		schedules: schedules,
		media:     mediaSvc,
		manager:   manager,
		auditSvc:  auditSvc,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.db, a.jwtSecret))

			pr.Get("/events", a.handleEventsWebSocket)

			pr.Route("/actions", func(r chi.Router) {
				r.Post("/execute", a.handleActionExecute)
				r.Get("/", a.handleActionList)
				r.Get("/slot-status/{slotID}", a.handleSlotStatus)
				r.Route("/{executionID}", func(r chi.Router) {
					r.Get("/", a.handleActionGet)
					r.Post("/stop", a.handleActionStop)
					r.Post("/pause", a.handleActionPause)
					r.Post("/resume", a.handleActionResume)
					r.Post("/skip", a.handleActionSkip)
				})
			})

			pr.Route("/schedules", func(r chi.Router) {
				r.Get("/", a.handleScheduleList)
				r.Post("/", a.handleScheduleCreate)
				r.Get("/slot/{slotID}", a.handleSchedulesForSlot)
				r.Route("/{scheduleID}", func(r chi.Router) {
					r.Get("/", a.handleScheduleGet)
					r.Put("/", a.handleScheduleUpdate)
					r.Delete("/", a.handleScheduleDelete)
					r.Put("/activate", a.handleScheduleActivate)
					r.Put("/deactivate", a.handleScheduleDeactivate)
				})
			})

			pr.Route("/media-lists", func(r chi.Router) {
				r.Get("/", a.handleMediaListList)
				r.Post("/", a.handleMediaListCreate)
				r.Route("/{mediaListID}", func(r chi.Router) {
					r.Get("/", a.handleMediaListGet)
					r.Put("/", a.handleMediaListUpdate)
					r.Delete("/", a.handleMediaListDelete)
				})
				r.Post("/items/{itemID}/asset", a.handleMediaItemUpload)
			})

			pr.Route("/organizations", func(r chi.Router) {
				r.Get("/", a.handleOrganizationList)
				r.Post("/", a.handleOrganizationCreate)
				r.Get("/{orgID}", a.handleOrganizationGet)
			})

			pr.Route("/slots", func(r chi.Router) {
				r.Get("/", a.handleSlotList)
				r.Post("/", a.handleSlotCreate)
				r.Get("/active", a.handleSlotsActive)
				r.Route("/{slotID}", func(r chi.Router) {
					r.Get("/", a.handleSlotGet)
					r.Put("/", a.handleSlotUpdate)
					r.Delete("/", a.handleSlotDelete)
				})
			})

			pr.Get("/audit", a.handleAuditList)
		})
	})
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// writeServiceError maps service sentinel errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, action.ErrValidation), errors.Is(err, schedule.ErrValidation),
		errors.Is(err, action.ErrConflict):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, action.ErrNotFound), errors.Is(err, schedule.ErrNotFound), errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error
	if err != nil || !auth.CheckPassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
	}, 24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":             user.ID,
			"email":          user.Email,
			"role":           user.Role,
			"organizationId": user.OrganizationID,
		},
	})
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	entries, err := a.auditSvc.Entries(r.Context(), r.URL.Query().Get("organizationId"), queryInt(r, "limit", 100))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}
