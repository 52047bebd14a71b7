package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Zakes-Matsimbe/nkateko/internal/model"
)

type profileResponse struct {
	Name           string  `json:"name"`
	BokamosoNumber string  `json:"bokamoso_number"`
	Grade          *string `json:"grade"`
	School         *string `json:"school"`
	Email          string  `json:"email"`
	CellNumber     *string `json:"cell_number"`
	WhatsappNumber *string `json:"whatsapp_number"`
	Enrolled       bool    `json:"enrolled"`
	Southdeep      bool    `json:"southdeep"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	profile, err := s.store.GetLearnerProfile(r.Context(), learnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Learner profile not found")
			return
		}
		log.Printf("profile lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Name:           profile.Name,
		BokamosoNumber: profile.BokamosoNumber,
		Grade:          profile.Grade,
		School:         profile.School,
		Email:          profile.Email,
		CellNumber:     profile.CellNumber,
		WhatsappNumber: profile.WhatsappNumber,
		Enrolled:       profile.Enrolled,
		Southdeep:      profile.Southdeep,
	})
}

type assessmentResponse struct {
	AssessmentName string    `json:"assessment_name"`
	Subject        string    `json:"subject"`
	DateWritten    time.Time `json:"date_written"`
	Mark           float64   `json:"mark"`
}

func (s *Server) handleGetAssessments(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	marks, err := s.store.ListAssessmentMarks(r.Context(), learnerID)
	if err != nil {
		log.Printf("assessments lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]assessmentResponse, 0, len(marks))
	for _, mark := range marks {
		resp = append(resp, assessmentResponse{
			AssessmentName: mark.AssessmentName,
			Subject:        mark.Subject,
			DateWritten:    mark.DateWritten,
			Mark:           mark.Mark,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type attendanceResponse struct {
	ClassDate      time.Time `json:"class_date"`
	Status         string    `json:"status"`
	ApologyMessage *string   `json:"apology_message"`
	RecordedAt     time.Time `json:"recorded_at"`
}

func (s *Server) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	entries, err := s.store.ListAttendance(r.Context(), learnerID)
	if err != nil {
		log.Printf("attendance lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]attendanceResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, attendanceResponse{
			ClassDate:      entry.ClassDate,
			Status:         entry.Status,
			ApologyMessage: entry.ApologyMessage,
			RecordedAt:     entry.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type notificationResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	notifications, err := s.store.ListNotifications(r.Context(), learnerID)
	if err != nil {
		log.Printf("notifications lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		resp = append(resp, notificationResponse{
			ID:        notification.ID,
			Title:     notification.Title,
			Content:   notification.Content,
			IsRead:    notification.IsRead,
			CreatedAt: notification.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	notificationID, err := strconv.ParseInt(chi.URLParam(r, "notificationID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	marked, err := s.store.MarkNotificationRead(r.Context(), learnerID, notificationID)
	if err != nil {
		log.Printf("notification update error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !marked {
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type applicationResponse struct {
	AppID     string          `json:"app_id"`
	Year      int             `json:"year"`
	Status    string          `json:"status"`
	MathType  string          `json:"math_type"`
	Grade     string          `json:"grade"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

func mapApplications(applications []model.Application) []applicationResponse {
	resp := make([]applicationResponse, 0, len(applications))
	for _, app := range applications {
		resp = append(resp, applicationResponse{
			AppID:     app.AppID,
			Year:      app.Year,
			Status:    app.Status,
			MathType:  app.MathType,
			Grade:     app.Grade,
			CreatedAt: app.CreatedAt,
			UpdatedAt: app.UpdatedAt,
			Data:      app.Data,
		})
	}
	return resp
}

func (s *Server) handleGetApplications(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	applications, err := s.store.ListApplications(r.Context(), learnerID)
	if err != nil {
		log.Printf("applications lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapApplications(applications))
}

type createApplicationRequest struct {
	Grade    string          `json:"grade"`
	MathType string          `json:"math_type"`
	FormData json.RawMessage `json:"formData"`
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req createApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Grade = strings.TrimSpace(req.Grade)
	req.MathType = strings.TrimSpace(req.MathType)
	if req.Grade == "" || req.MathType == "" {
		writeError(w, http.StatusBadRequest, "Grade and math type are required")
		return
	}
	if len(req.FormData) == 0 {
		req.FormData = json.RawMessage("{}")
	}

	// Applications are always for the following academic year.
	year := time.Now().UTC().Year() + 1
	appID := "APP-" + strings.ToUpper(uuid.NewString()[:8])

	if err := s.store.CreateApplication(r.Context(), learnerID, appID, year, req.MathType, req.Grade, req.FormData); err != nil {
		log.Printf("application create error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "app_id": appID})
}

func (s *Server) handleCheckUploads(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	both, err := s.store.HasBothDocuments(r.Context(), learnerID)
	if err != nil {
		log.Printf("document check error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"both_uploaded": both})
}

func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	idPath, err := s.saveUpload(r, "id_file", learnerID, false)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	reportPath, err := s.saveUpload(r, "report_file", learnerID, true)
	if err != nil {
		s.removeUpload(idPath)
		writeUploadError(w, err)
		return
	}

	if err := s.store.SaveLearnerDocuments(r.Context(), learnerID, idPath, reportPath); err != nil {
		s.removeUpload(idPath)
		s.removeUpload(reportPath)
		log.Printf("document save error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Documents uploaded"})
}

func termParam(r *http.Request) (int, error) {
	term, err := strconv.Atoi(chi.URLParam(r, "term"))
	if err != nil || term < 1 || term > 4 {
		return 0, fmt.Errorf("invalid term")
	}
	return term, nil
}

type termMarksResponse struct {
	Subjects map[string]bool `json:"subjects"`
	Marks    json.RawMessage `json:"marks"`
	Report   *string         `json:"report"`
	IsOpen   bool            `json:"is_open"`
}

func (s *Server) handleGetTermMarks(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	term, err := termParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid term")
		return
	}

	subjects, err := s.store.ListLearnerSubjects(r.Context(), learnerID)
	if err != nil {
		log.Printf("subjects lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	subjectSet := make(map[string]bool, len(subjects))
	for _, subject := range subjects {
		subjectSet[subject] = true
	}

	resp := termMarksResponse{
		Subjects: subjectSet,
		Marks:    json.RawMessage("{}"),
	}

	marks, err := s.store.GetTermMarks(r.Context(), learnerID, term)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		log.Printf("term marks lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err == nil {
		if len(marks.Marks) > 0 {
			resp.Marks = marks.Marks
		}
		resp.Report = marks.ReportPath
	}

	open, err := s.store.IsTermOpen(r.Context(), term)
	if err != nil {
		log.Printf("term window lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp.IsOpen = open

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostTermMarks(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	term, err := termParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid term")
		return
	}

	open, err := s.store.IsTermOpen(r.Context(), term)
	if err != nil {
		log.Printf("term window lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !open {
		writeError(w, http.StatusBadRequest, "This term is closed.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	var marks map[string]float64
	if err := json.Unmarshal([]byte(r.FormValue("marks")), &marks); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid marks payload")
		return
	}

	subjects, err := s.store.ListLearnerSubjects(r.Context(), learnerID)
	if err != nil {
		log.Printf("subjects lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	subjectSet := make(map[string]bool, len(subjects))
	for _, subject := range subjects {
		subjectSet[subject] = true
	}
	for subject, value := range marks {
		if !subjectSet[subject] {
			writeError(w, http.StatusBadRequest, "Unknown subject "+subject)
			return
		}
		if value < 0 || value > 100 {
			writeError(w, http.StatusBadRequest, "Invalid mark for "+subject)
			return
		}
	}

	var reportPath *string
	if r.MultipartForm != nil && len(r.MultipartForm.File["report"]) > 0 {
		path, err := s.saveUpload(r, "report", learnerID, true)
		if err != nil {
			writeUploadError(w, err)
			return
		}
		reportPath = &path
	}

	encoded, err := json.Marshal(marks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid marks payload")
		return
	}

	if err := s.store.UpsertTermMarks(r.Context(), learnerID, term, encoded, reportPath); err != nil {
		if reportPath != nil {
			s.removeUpload(*reportPath)
		}
		log.Printf("term marks save error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleReplaceTermReport(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}
	term, err := termParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid term")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	path, err := s.saveUpload(r, "report", learnerID, true)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	if err := s.store.ReplaceTermReport(r.Context(), learnerID, term, path); err != nil {
		s.removeUpload(path)
		log.Printf("report replace error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"report": path})
}

type warningResponse struct {
	ID       int64     `json:"id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Date     time.Time `json:"date"`
	Severity string    `json:"severity"`
}

func (s *Server) handleGetWarnings(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	warnings, err := s.store.ListWarnings(r.Context(), learnerID)
	if err != nil {
		log.Printf("warnings lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]warningResponse, 0, len(warnings))
	for _, warning := range warnings {
		resp = append(resp, warningResponse{
			ID:       warning.ID,
			Type:     warning.Type,
			Reason:   warning.Reason,
			Date:     warning.Date,
			Severity: warning.Severity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type teacherReviewResponse struct {
	ID      int64     `json:"id"`
	Teacher string    `json:"teacher"`
	Subject string    `json:"subject"`
	Rating  float64   `json:"rating"`
	Comment string    `json:"comment"`
	Date    time.Time `json:"date"`
}

func (s *Server) handleGetTeacherReviews(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := subjectID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	reviews, err := s.store.ListTeacherReviews(r.Context(), learnerID)
	if err != nil {
		log.Printf("reviews lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]teacherReviewResponse, 0, len(reviews))
	for _, review := range reviews {
		resp = append(resp, teacherReviewResponse{
			ID:      review.ID,
			Teacher: review.Teacher,
			Subject: review.Subject,
			Rating:  review.Rating,
			Comment: review.Comment,
			Date:    review.Date,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
