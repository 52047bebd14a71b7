package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Zakes-Matsimbe/nkateko/internal/auth"
	"github.com/Zakes-Matsimbe/nkateko/internal/config"
	"github.com/Zakes-Matsimbe/nkateko/internal/crypto"
	"github.com/Zakes-Matsimbe/nkateko/internal/repository"
)

type Server struct {
	cfg   config.Config
	store *repository.Store
	redis *redis.Client
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		redis: redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Nkateko API is running"})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/login", s.handleLogin)

	r.Route("/api/learner", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole("Learner"))

		r.Get("/profile", s.handleGetProfile)
		r.Get("/assessments", s.handleGetAssessments)
		r.Get("/attendance", s.handleGetAttendance)
		r.Get("/notifications", s.handleGetNotifications)
		r.Post("/notifications/{notificationID}/read", s.handleMarkNotificationRead)
		r.Get("/applications", s.handleGetApplications)
		r.Post("/applications/create", s.handleCreateApplication)
		r.Get("/check-uploads", s.handleCheckUploads)
		r.Post("/upload-documents", s.handleUploadDocuments)
		r.Get("/term-marks/{term}", s.handleGetTermMarks)
		r.Post("/term-marks/{term}", s.handlePostTermMarks)
		r.Post("/term-marks/{term}/replace-report", s.handleReplaceTermReport)
		r.Get("/warnings", s.handleGetWarnings)
		r.Get("/teacher-reviews", s.handleGetTeacherReviews)
	})

	r.Route("/api/staff", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole("Staff"))

		r.Get("/learners", s.handleListLearners)
		r.Get("/applications", s.handleListApplications)
		r.Post("/applications/{appID}/status", s.handleSetApplicationStatus)
		r.Post("/notifications", s.handlePublishNotification)
	})

	return r
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type loginResponse struct {
	User  loginUser `json:"user"`
	Token string    `json:"token"`
}

// handleLogin runs the login flow: classify the identifier, fetch the
// matching identity row, verify the password, resolve the canonical role
// and issue an access token. An unknown identifier and a wrong password
// produce byte-identical responses.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Identifier and password are required")
		return
	}

	kind, err := repository.ClassifyIdentifier(identifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid identifier format")
		return
	}

	allowed, err := s.allowLoginAttempt(r.Context(), clientIP(r))
	if err != nil {
		log.Printf("login throttle error: %v", err)
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	}

	record, err := s.store.GetIdentity(r.Context(), kind, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("identity lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := crypto.CheckPassword(record.Hash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	role, err := s.store.ResolveRole(r.Context(), kind, record)
	if err != nil {
		log.Printf("role lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, strconv.FormatInt(record.ID, 10), role)
	if err != nil {
		log.Printf("token issue error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:  loginUser{ID: record.ID, Name: record.Name, Role: role},
		Token: token,
	})
}

// Auth

type principalKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w)
			return
		}

		principal, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := principalFromContext(r.Context())
			if principal == nil {
				writeUnauthorized(w)
				return
			}
			if principal.Role != role {
				writeError(w, http.StatusForbidden, "Not authorized for this resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFromContext(ctx context.Context) *auth.Principal {
	value := ctx.Value(principalKey{})
	principal, _ := value.(*auth.Principal)
	return principal
}

// subjectID extracts the numeric identity id from the request principal.
func subjectID(r *http.Request) (int64, bool) {
	principal := principalFromContext(r.Context())
	if principal == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(principal.SubjectID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "Could not validate credentials")
}
