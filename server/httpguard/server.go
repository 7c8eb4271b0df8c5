//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package httpguard exposes chain state over HTTP and wraps handlers in
// the admission pipeline. It is an operator surface: snapshots,
// execution graphs and safety event logs of the chains registered with
// it.
package httpguard

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-guard/chain"
	"trpc.group/trpc-go/trpc-agent-guard/log"
)

// Server serves containment state for registered chains.
type Server struct {
	router *mux.Router

	mu     sync.RWMutex
	chains map[string]*chain.Context
}

// Option configures the Server instance.
type Option func(*Server)

// New creates the guard HTTP server.
func New(opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		chains: make(map[string]*chain.Context),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// Register makes a chain visible to the server. Registering a chain
// with the ID of an existing one replaces it.
func (s *Server) Register(c *chain.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[c.ID()] = c
}

// Unregister removes a chain by ID.
func (s *Server) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, id)
}

func (s *Server) chain(id string) (*chain.Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	return c, ok
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/guard/chains", s.handleListChains).Methods(http.MethodGet)
	s.router.HandleFunc("/guard/chains/{chainId}", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/guard/chains/{chainId}/graph", s.handleGraph).Methods(http.MethodGet)
	s.router.HandleFunc("/guard/chains/{chainId}/events", s.handleEvents).Methods(http.MethodGet)
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshots := make([]chain.Snapshot, 0, len(s.chains))
	for _, c := range s.chains {
		snapshots = append(snapshots, c.Snapshot())
	}
	s.mu.RUnlock()
	s.writeJSON(w, snapshots)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(mux.Vars(r)["chainId"])
	if !ok {
		http.Error(w, "chain not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, c.Snapshot())
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(mux.Vars(r)["chainId"])
	if !ok {
		http.Error(w, "chain not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, c.GraphSnapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chain(mux.Vars(r)["chainId"])
	if !ok {
		http.Error(w, "chain not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, c.Events())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("httpguard: encode response failed: %v", err)
	}
}
