package http

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type learnerSummaryResponse struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	BokamosoNumber string  `json:"bokamoso_number"`
	Grade          *string `json:"grade"`
	School         *string `json:"school"`
	Enrolled       bool    `json:"enrolled"`
}

func (s *Server) handleListLearners(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	grade := strings.TrimSpace(r.URL.Query().Get("grade"))

	learners, err := s.store.ListLearners(r.Context(), grade, limit)
	if err != nil {
		log.Printf("learner list error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]learnerSummaryResponse, 0, len(learners))
	for _, learner := range learners {
		resp = append(resp, learnerSummaryResponse{
			ID:             learner.ID,
			Name:           learner.Name,
			BokamosoNumber: learner.BokamosoNumber,
			Grade:          learner.Grade,
			School:         learner.School,
			Enrolled:       learner.Enrolled,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !isValidApplicationStatus(status) {
		writeError(w, http.StatusBadRequest, "Invalid application status")
		return
	}

	applications, err := s.store.ListAllApplications(r.Context(), status, limit)
	if err != nil {
		log.Printf("application list error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapApplications(applications))
}

type setApplicationStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetApplicationStatus(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if appID == "" {
		writeError(w, http.StatusBadRequest, "Missing application id")
		return
	}

	var req setApplicationStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if !isValidApplicationStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Invalid application status")
		return
	}

	updated, err := s.store.UpdateApplicationStatus(r.Context(), appID, req.Status)
	if err != nil {
		log.Printf("application status error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "Application not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type publishNotificationRequest struct {
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handlePublishNotification(w http.ResponseWriter, r *http.Request) {
	var req publishNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.UserID <= 0 || req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "User id, title and content are required")
		return
	}

	if err := s.store.CreateNotification(r.Context(), req.UserID, req.Title, req.Content); err != nil {
		log.Printf("notification create error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func isValidApplicationStatus(status string) bool {
	switch status {
	case "Pending", "Approved", "Rejected":
		return true
	default:
		return false
	}
}
