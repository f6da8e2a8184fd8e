package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gharbills/bill-tracker/internal/bill"
	"github.com/gharbills/bill-tracker/internal/scanning"
	"github.com/gharbills/bill-tracker/internal/tracker"
)

// maxUploadSize caps multipart uploads; phone photos can be large
const maxUploadSize = 50 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// processBillResponse is Result plus a caller-facing hint distinguishing a
// transient service failure from an unreadable image.
type processBillResponse struct {
	tracker.Result
	Message string `json:"message,omitempty"`
}

func resultMessage(result tracker.Result) string {
	switch {
	case errors.Is(result.Err, scanning.ErrServiceUnavailable):
		return "extraction service unavailable, try again"
	case errors.Is(result.Err, scanning.ErrMalformedResponse):
		return "could not read the bill, try a clearer image"
	case result.ItemsStored == 0:
		return "no items found, try a clearer image"
	default:
		return ""
	}
}

// handleProcessBill accepts one receipt image and runs the pipeline
func (s *Server) handleProcessBill(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer f.Close()

	img, err := readBillImage(f, header)
	if err != nil {
		slog.Error("Error reading upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "error reading image")
		return
	}

	result := s.service.ProcessBill(r.Context(), img, r.FormValue("person"))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, processBillResponse{Result: result, Message: resultMessage(result)})
}

// handleProcessBatch accepts several receipt images and runs them as one
// batch
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no images provided")
		return
	}

	imgs := make([]tracker.BillImage, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening upload", "filename", header.Filename, "error", err)
			continue
		}
		img, err := readBillImage(f, header)
		f.Close()
		if err != nil {
			slog.Error("Error reading upload", "filename", header.Filename, "error", err)
			continue
		}
		imgs = append(imgs, img)
	}

	result := s.service.ProcessBatch(r.Context(), imgs, r.FormValue("person"))
	writeJSON(w, http.StatusOK, result)
}

// handleListExpenditures returns stored records, optionally filtered by an
// inclusive date range. The unfiltered list is served through the
// version-token cache.
func (s *Server) handleListExpenditures(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")

	var (
		records []*bill.Expenditure
		err     error
	)
	if start != "" || end != "" {
		records, err = s.service.ListRange(r.Context(), start, end)
	} else {
		records, err = s.cache.get(r.Context(), s.service)
	}
	if err != nil {
		slog.Error("Error listing expenditures", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleUpdateExpenditure replaces one record
func (s *Server) handleUpdateExpenditure(w http.ResponseWriter, r *http.Request) {
	var record bill.Expenditure
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	found, err := s.service.Update(r.Context(), r.PathValue("id"), &record)
	if err != nil {
		slog.Error("Error updating expenditure", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "expenditure not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// handleDeleteExpenditure removes one record
func (s *Server) handleDeleteExpenditure(w http.ResponseWriter, r *http.Request) {
	found, err := s.service.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Error deleting expenditure", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "expenditure not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleSummary returns the amount total for one category, or for all
// records when no category is given
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	category := bill.Category(r.URL.Query().Get("category"))
	if category != "" && !bill.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	total, err := s.service.SumByCategory(r.Context(), category)
	if err != nil {
		slog.Error("Error summing expenditures", "category", category, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total": total})
}

func readBillImage(f multipart.File, header *multipart.FileHeader) (tracker.BillImage, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return tracker.BillImage{}, err
	}
	return tracker.BillImage{
		Name:        header.Filename,
		Data:        data,
		ContentType: uploadContentType(header),
	}, nil
}

// uploadContentType resolves the content type from the part header, falling
// back to the file extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
