// Package api serves the simulation over HTTP: node listing, message sending,
// content operations, query processing and the live message feed.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/meshsim/pkg/service/feed"
	"github.com/m-mizutani/meshsim/pkg/usecase/services"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
)

// Server exposes a Simulation over HTTP
type Server struct {
	sim      *sim.Simulation
	hub      *feed.Hub
	services *services.Simulator
	origins  []string
	validate *validator.Validate
}

type Option func(*Server)

// WithFeed mounts the websocket hub at /ws
func WithFeed(hub *feed.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithServices exposes the backend services simulator at /api/services
func WithServices(simulator *services.Simulator) Option {
	return func(s *Server) {
		s.services = simulator
	}
}

// WithAllowedOrigins sets the CORS origins. Defaults to any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

func New(simulation *sim.Simulation, opts ...Option) *Server {
	s := &Server{
		sim:      simulation,
		origins:  []string{"*"},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(accessLog)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", s.health)

	router.Route("/api", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Get("/active", s.listActiveNodes)
			r.Get("/{nodeID}", s.getNode)
			r.Patch("/{nodeID}", s.updateNodeStatus)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", s.listMessages)
			r.Post("/", s.sendMessage)
		})

		r.Route("/content", func(r chi.Router) {
			r.Get("/", s.listContent)
			r.Post("/", s.putContent)
			r.Get("/{cid}", s.getContent)
			r.Delete("/{cid}", s.deleteContent)
			r.Patch("/{cid}/metadata", s.updateMetadata)
		})

		r.Post("/query", s.processQuery)
		r.Post("/reset", s.reset)

		if s.services != nil {
			r.Get("/services", s.listServices)
		}
	})

	if s.hub != nil {
		router.Handle("/ws", s.hub)
	}

	return router
}
