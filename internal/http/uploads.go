package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type uploadError struct {
	status int
	detail string
}

func (e *uploadError) Error() string { return e.detail }

func writeUploadError(w http.ResponseWriter, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		writeError(w, ue.status, ue.detail)
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// saveUpload copies the named multipart file into the upload directory
// under a per-learner folder and returns the stored path relative to the
// upload root, so callers never expose the server's directory layout.
// pdfOnly guards report uploads.
func (s *Server) saveUpload(r *http.Request, field string, learnerID int64, pdfOnly bool) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Missing file %q", field)}
	}
	defer file.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		return "", &uploadError{http.StatusBadRequest, "File size exceeds the upload limit"}
	}
	if pdfOnly && !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return "", &uploadError{http.StatusBadRequest, "Only PDF files are allowed"}
	}

	dir := filepath.Join(s.cfg.UploadDir, strconv.FormatInt(learnerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := uuid.NewString() + "_" + filepath.Base(header.Filename)
	rel := filepath.Join(strconv.FormatInt(learnerID, 10), name)

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		s.removeUpload(rel)
		return "", err
	}
	return rel, nil
}

// removeUpload deletes a previously stored file by its relative path.
func (s *Server) removeUpload(rel string) {
	_ = os.Remove(filepath.Join(s.cfg.UploadDir, rel))
}
