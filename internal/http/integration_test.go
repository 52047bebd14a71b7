package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zakes-Matsimbe/nkateko/internal/auth"
	"github.com/Zakes-Matsimbe/nkateko/internal/crypto"
	"github.com/Zakes-Matsimbe/nkateko/internal/db"
	"github.com/Zakes-Matsimbe/nkateko/internal/repository"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("NKATEKO_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("NKATEKO_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

func newTestApp(t *testing.T, pool *pgxpool.Pool) *httptest.Server {
	cfg := testConfig()
	cfg.UploadDir = t.TempDir()
	cfg.MaxUploadBytes = 5 << 20
	server := NewServer(cfg, repository.NewStore(pool), nil)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app
}

func seedRole(t *testing.T, pool *pgxpool.Pool, name string) int64 {
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO roles (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("seed role: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM roles WHERE id = $1`, id)
	})
	return id
}

func seedLearner(t *testing.T, pool *pgxpool.Pool, roleID int64, password string) (int64, string) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	number := fmt.Sprintf("BOK9%07d", time.Now().UnixNano()%10000000)
	email := fmt.Sprintf("learner.%d@example.local", time.Now().UnixNano())

	var id int64
	err = pool.QueryRow(context.Background(), `
		INSERT INTO users (bokamoso_number, full_names, email, password_hash, role_id, grade, school, enrolled, southdeep)
		VALUES ($1, 'Test Learner', $2, $3, $4, '11', 'Test High', true, false)
		RETURNING id
	`, number, email, hash, roleID).Scan(&id)
	if err != nil {
		t.Fatalf("seed learner: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM notifications WHERE user_id = $1`, id)
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id, number
}

func seedStaff(t *testing.T, pool *pgxpool.Pool, password string) (int64, string) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	number := fmt.Sprintf("BET9%07d", time.Now().UnixNano()%10000000)
	email := fmt.Sprintf("staff.%d@example.local", time.Now().UnixNano())

	var id int64
	err = pool.QueryRow(context.Background(), `
		INSERT INTO staff (staff_number, names, email, password, role)
		VALUES ($1, 'Test Staff', $2, $3, 'Staff')
		RETURNING id
	`, number, email, hash).Scan(&id)
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM staff WHERE id = $1`, id)
	})
	return id, number
}

func seedTermWindow(t *testing.T, pool *pgxpool.Pool, term int, open bool) {
	opens := time.Now().Add(-time.Hour)
	closes := time.Now().Add(time.Hour)
	if !open {
		opens = time.Now().Add(-48 * time.Hour)
		closes = time.Now().Add(-24 * time.Hour)
	}
	_, err := pool.Exec(context.Background(), `
		INSERT INTO term_windows (term, opens_at, closes_at)
		VALUES ($1, $2, $3)
	`, term, opens, closes)
	if err != nil {
		t.Fatalf("seed term window: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM term_windows WHERE term = $1 AND opens_at = $2`, term, opens)
	})
}

func seedSubjects(t *testing.T, pool *pgxpool.Pool, learnerID int64, subjects ...string) {
	for _, subject := range subjects {
		_, err := pool.Exec(context.Background(), `
			INSERT INTO learner_subjects (user_id, subject) VALUES ($1, $2)
		`, learnerID, subject)
		if err != nil {
			t.Fatalf("seed subject: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM learner_subjects WHERE user_id = $1`, learnerID)
	})
}

// doMultipart posts a multipart form with string fields plus small PDF-ish
// file parts keyed by field name.
func doMultipart(t *testing.T, url, token string, fields map[string]string, files map[string]string) *http.Response {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for field, filename := range files {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("%PDF-1.4 test payload")); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func login(t *testing.T, app *httptest.Server, identifier, password string) (loginResponse, *http.Response) {
	resp := doReq(t, http.MethodPost, app.URL+"/api/login", "", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	var payload loginResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
	}
	return payload, resp
}

func TestLoginIssuesLearnerToken(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, number := seedLearner(t, pool, roleID, "correct-pw")
	app := newTestApp(t, pool)

	payload, resp := login(t, app, number, "correct-pw")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload.User.ID != learnerID || payload.User.Name != "Test Learner" || payload.User.Role != "Learner" {
		t.Fatalf("unexpected user: %+v", payload.User)
	}

	principal, err := auth.ParseToken("test-secret", payload.Token)
	if err != nil {
		t.Fatalf("token parse error: %v", err)
	}
	if principal.SubjectID != fmt.Sprintf("%d", learnerID) || principal.Role != "Learner" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	_, number := seedLearner(t, pool, roleID, "correct-pw")
	app := newTestApp(t, pool)

	_, unknownResp := login(t, app, "BOK00000000", "whatever")
	_, wrongPwResp := login(t, app, number, "wrong-pw")

	if unknownResp.StatusCode != http.StatusUnauthorized || wrongPwResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknownResp.StatusCode, wrongPwResp.StatusCode)
	}

	unknownBody, _ := io.ReadAll(unknownResp.Body)
	wrongPwBody, _ := io.ReadAll(wrongPwResp.Body)
	if !bytes.Equal(unknownBody, wrongPwBody) {
		t.Fatalf("failure bodies differ: %s vs %s", unknownBody, wrongPwBody)
	}
}

func TestLoginRoleFallback(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	// role_id pointing nowhere: login must still succeed with "Unknown".
	learnerID, number := seedLearner(t, pool, 999999999, "correct-pw")
	app := newTestApp(t, pool)

	payload, resp := login(t, app, number, "correct-pw")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload.User.ID != learnerID || payload.User.Role != "Unknown" {
		t.Fatalf("expected Unknown role, got %+v", payload.User)
	}
}

func TestStaffLoginUsesCanonicalRoleColumn(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	_, number := seedStaff(t, pool, "staff-pw")
	app := newTestApp(t, pool)

	payload, resp := login(t, app, number, "staff-pw")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload.User.Role != "Staff" {
		t.Fatalf("expected Staff role, got %q", payload.User.Role)
	}
}

func TestLearnerProfileAndRoleGates(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	_, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	_, staffNumber := seedStaff(t, pool, "staff-pw")
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")
	staff, _ := login(t, app, staffNumber, "staff-pw")

	resp := doReq(t, http.MethodGet, app.URL+"/api/learner/profile", learner.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("learner profile: expected 200, got %d", resp.StatusCode)
	}
	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if profile.BokamosoNumber != learnerNumber || profile.Name != "Test Learner" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Staff may not call learner endpoints, but may call staff ones.
	resp = doReq(t, http.MethodGet, app.URL+"/api/learner/profile", staff.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("staff on learner endpoint: expected 403, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, app.URL+"/api/staff/learners?limit=5", staff.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("staff roster: expected 200, got %d", resp.StatusCode)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	_, staffNumber := seedStaff(t, pool, "staff-pw")
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")
	staff, _ := login(t, app, staffNumber, "staff-pw")

	resp := doReq(t, http.MethodPost, app.URL+"/api/staff/notifications", staff.Token, map[string]interface{}{
		"user_id": learnerID,
		"title":   "Term 2 reports",
		"content": "Reports are ready for collection.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish notification: expected 201, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/learner/notifications", learner.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list notifications: expected 200, got %d", resp.StatusCode)
	}
	var notifications []notificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&notifications); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(notifications) == 0 {
		t.Fatalf("expected at least one notification")
	}
	first := notifications[0]
	if first.Title != "Term 2 reports" || first.IsRead {
		t.Fatalf("unexpected notification: %+v", first)
	}

	resp = doReq(t, http.MethodPost, fmt.Sprintf("%s/api/learner/notifications/%d/read", app.URL, first.ID), learner.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/learner/notifications", learner.Token, nil)
	if err := json.NewDecoder(resp.Body).Decode(&notifications); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(notifications) == 0 || !notifications[0].IsRead {
		t.Fatalf("expected notification marked read")
	}
}

func TestCreateAndListApplication(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM applications WHERE user_id = $1`, learnerID)
	})
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")

	resp := doReq(t, http.MethodPost, app.URL+"/api/learner/applications/create", learner.Token, map[string]interface{}{
		"grade":     "11",
		"math_type": "Mathematics",
		"formData":  map[string]interface{}{"subjects": map[string]interface{}{"English": map[string]string{"t4": "70"}}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create application: expected 200, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/learner/applications", learner.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list applications: expected 200, got %d", resp.StatusCode)
	}
	var applications []applicationResponse
	if err := json.NewDecoder(resp.Body).Decode(&applications); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(applications) == 0 {
		t.Fatalf("expected at least one application")
	}
	if applications[0].Status != "Pending" || applications[0].MathType != "Mathematics" {
		t.Fatalf("unexpected application: %+v", applications[0])
	}
}

func TestUploadDocumentsStoresBothRows(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM learner_documents WHERE user_id = $1`, learnerID)
	})
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")

	resp := doMultipart(t, app.URL+"/api/learner/upload-documents", learner.Token, nil, map[string]string{
		"id_file":     "identity.pdf",
		"report_file": "report.pdf",
	})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/api/learner/check-uploads", learner.Token, nil)
	var uploads map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&uploads); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !uploads["both_uploaded"] {
		t.Fatalf("expected both documents recorded, got %+v", uploads)
	}

	// Both rows land together and carry paths relative to the upload root.
	rows, err := pool.Query(context.Background(), `SELECT file_path FROM learner_documents WHERE user_id = $1`, learnerID)
	if err != nil {
		t.Fatalf("query documents: %v", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			t.Fatalf("scan: %v", err)
		}
		paths = append(paths, p)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 document rows, got %d", len(paths))
	}
	for _, p := range paths {
		if filepath.IsAbs(p) || !strings.HasPrefix(p, fmt.Sprintf("%d/", learnerID)) {
			t.Fatalf("expected learner-relative path, got %q", p)
		}
	}
}

func TestClosedTermRejectsMarks(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	seedSubjects(t, pool, learnerID, "English")
	seedTermWindow(t, pool, 1, false)
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")

	resp := doMultipart(t, app.URL+"/api/learner/term-marks/1", learner.Token, map[string]string{
		"marks": `{"English": 70}`,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("closed term: expected 400, got %d", resp.StatusCode)
	}
	var detail map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if detail["detail"] != "This term is closed." {
		t.Fatalf("unexpected detail: %q", detail["detail"])
	}
}

func TestTermMarksUpsertKeepsReport(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	roleID := seedRole(t, pool, "Learner")
	learnerID, learnerNumber := seedLearner(t, pool, roleID, "correct-pw")
	seedSubjects(t, pool, learnerID, "English", "Mathematics")
	seedTermWindow(t, pool, 2, true)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM term_marks WHERE user_id = $1`, learnerID)
	})
	app := newTestApp(t, pool)

	learner, _ := login(t, app, learnerNumber, "correct-pw")

	getMarks := func() termMarksResponse {
		t.Helper()
		resp := doReq(t, http.MethodGet, app.URL+"/api/learner/term-marks/2", learner.Token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get marks: expected 200, got %d", resp.StatusCode)
		}
		var payload termMarksResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		return payload
	}
	decodeMarks := func(raw json.RawMessage) map[string]float64 {
		t.Helper()
		marks := map[string]float64{}
		if err := json.Unmarshal(raw, &marks); err != nil {
			t.Fatalf("unmarshal marks: %v", err)
		}
		return marks
	}

	// First submission carries a report.
	resp := doMultipart(t, app.URL+"/api/learner/term-marks/2", learner.Token, map[string]string{
		"marks": `{"English": 70, "Mathematics": 65}`,
	}, map[string]string{"report": "term2.pdf"})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("first submit: expected 200, got %d: %s", resp.StatusCode, body)
	}

	first := getMarks()
	if !first.IsOpen {
		t.Fatalf("expected open term")
	}
	if got := decodeMarks(first.Marks); got["English"] != 70 || got["Mathematics"] != 65 {
		t.Fatalf("unexpected marks: %+v", got)
	}
	if first.Report == nil {
		t.Fatalf("expected stored report")
	}
	if filepath.IsAbs(*first.Report) || !strings.HasPrefix(*first.Report, fmt.Sprintf("%d/", learnerID)) {
		t.Fatalf("expected learner-relative report path, got %q", *first.Report)
	}

	// Resubmitting without a report replaces marks but keeps the report.
	resp = doMultipart(t, app.URL+"/api/learner/term-marks/2", learner.Token, map[string]string{
		"marks": `{"English": 80, "Mathematics": 71}`,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second submit: expected 200, got %d", resp.StatusCode)
	}

	second := getMarks()
	if got := decodeMarks(second.Marks); got["English"] != 80 || got["Mathematics"] != 71 {
		t.Fatalf("unexpected marks after resubmit: %+v", got)
	}
	if second.Report == nil || *second.Report != *first.Report {
		t.Fatalf("expected report kept, got %v", second.Report)
	}

	// Replace-report swaps only the stored report.
	resp = doMultipart(t, app.URL+"/api/learner/term-marks/2/replace-report", learner.Token, nil,
		map[string]string{"report": "term2-v2.pdf"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace report: expected 200, got %d", resp.StatusCode)
	}
	var replaced map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&replaced); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if replaced["report"] == "" || replaced["report"] == *first.Report {
		t.Fatalf("expected a new report path, got %q", replaced["report"])
	}
	if filepath.IsAbs(replaced["report"]) {
		t.Fatalf("expected relative report path, got %q", replaced["report"])
	}

	final := getMarks()
	if final.Report == nil || *final.Report != replaced["report"] {
		t.Fatalf("expected replaced report, got %v", final.Report)
	}
	if got := decodeMarks(final.Marks); got["English"] != 80 {
		t.Fatalf("expected marks untouched by replace, got %+v", got)
	}
}
