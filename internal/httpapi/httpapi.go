// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The storage-serviced Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package httpapi is the loopback debug/health HTTP surface (§4.14). It is
// never the IPC transport — the typed client contract stays D-Bus-only
// (§6) — this exists purely for operators.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/metrics"
)

// ProviderPinger reports whether the discovery engine's underlying bus
// provider connection is alive, for /healthz.
type ProviderPinger interface {
	Ping() error
}

// Server is the debug/health HTTP surface's router and dependencies.
type Server struct {
	Provider  ProviderPinger
	AuditLog  *audit.Log
	StartedAt time.Time

	router *mux.Router
}

// New builds the router with every route registered.
func New(provider ProviderPinger, auditLog *audit.Log) *Server {
	s := &Server{Provider: provider, AuditLog: auditLog, StartedAt: time.Now(), router: mux.NewRouter()}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/audit", s.handleDebugAudit).Methods(http.MethodGet)
	return s
}

// Handler returns the router as an http.Handler, for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthzResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Provider string `json:"provider"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok", Uptime: time.Since(s.StartedAt).String(), Provider: "ok"}
	statusCode := http.StatusOK

	if s.Provider != nil {
		if err := s.Provider.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Provider = err.Error()
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleDebugAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			limit = n
		}
	}

	if s.AuditLog == nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]any{})
		return
	}

	records, err := s.AuditLog.Tail(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
