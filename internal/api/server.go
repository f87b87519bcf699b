// Package api exposes the certification engine over HTTP. Authentication
// happens upstream; the caller identity arrives in X-Actor-ID and
// X-Actor-Reviewer headers.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/evaluation"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/scorer"
	"github.com/sells-group/regenmark/internal/store"
)

const (
	headerActorID       = "X-Actor-ID"
	headerActorReviewer = "X-Actor-Reviewer"

	maxJSONBody = 1 << 20
)

// Deps are the services the API fronts.
type Deps struct {
	Store       store.Store
	Catalog     *catalog.Catalog
	Scorer      *scorer.Scorer
	Issuer      *certify.Issuer
	Evaluations *evaluation.Service

	AllowedOrigins []string
	MaxUpload      int64
}

// Server holds the HTTP handlers.
type Server struct {
	store     store.Store
	cat       *catalog.Catalog
	scorer    *scorer.Scorer
	issuer    *certify.Issuer
	evals     *evaluation.Service
	origins   []string
	maxUpload int64
	now       func() time.Time
	newID     func() string
}

// New creates a Server.
func New(d Deps) *Server {
	maxUpload := d.MaxUpload
	if maxUpload <= 0 {
		maxUpload = evaluation.DefaultMaxUpload
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:     d.Store,
		cat:       d.Catalog,
		scorer:    d.Scorer,
		issuer:    d.Issuer,
		evals:     d.Evaluations,
		origins:   origins,
		maxUpload: maxUpload,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerActorID, headerActorReviewer},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/score", s.handleScore)

	r.Route("/owners", func(r chi.Router) {
		r.Post("/", s.handleCreateOwner)
		r.Route("/{ownerID}", func(r chi.Router) {
			r.Get("/", s.handleGetOwner)
			r.Get("/score", s.handleOwnerScore)
			r.Post("/recompute", s.handleRecompute)
			r.Get("/certifications", s.handleListCertifications)
			r.Get("/evaluations", s.handleListEvaluations)
		})
	})

	r.Route("/evaluations", func(r chi.Router) {
		r.Post("/", s.handleCreateEvaluation)
		r.Route("/{evalID}", func(r chi.Router) {
			r.Get("/", s.handleGetEvaluation)
			r.Post("/documents", s.handleAttachDocument)
			r.Post("/submit", s.handleSubmit)
			r.Post("/metrics", s.handleRecordMetrics)
			r.Post("/review", s.handleStartReview)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
		})
	})

	r.Route("/certifications/{certID}", func(r chi.Router) {
		r.Get("/", s.handleGetCertification)
		r.Post("/revoke", s.handleRevoke)
	})

	return r
}

// actorFrom reads the caller identity set by the upstream gateway.
func actorFrom(r *http.Request) model.Actor {
	reviewer, _ := strconv.ParseBool(r.Header.Get(headerActorReviewer))
	return model.Actor{ID: r.Header.Get(headerActorID), Reviewer: reviewer}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string       `json:"error"`
	Kind  certerr.Kind `json:"kind"`
}

func statusFor(kind certerr.Kind) int {
	switch kind {
	case certerr.KindValidation:
		return http.StatusBadRequest
	case certerr.KindInvalidState:
		return http.StatusConflict
	case certerr.KindNotFound:
		return http.StatusNotFound
	case certerr.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := certerr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: certerr.Message(err), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return certerr.Validation(op, "invalid request body: %v", err)
	}
	return nil
}
