package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/vectordb"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeNotFound           = "not_found"
	CodeMissingPhotos      = "missing_photos"
	CodeMissingPhotoType   = "missing_photo_type"
	CodeMissingFile        = "missing_file"
	CodeInvalidPhotoType   = "invalid_photo_type"
	CodeInvalidFileType    = "invalid_file_type"
	CodeFileTooLarge       = "file_too_large"
	CodeInvalidFormat      = "invalid_format"
	CodeScanClosed         = "scan_closed"
	CodeBatchScan          = "batch_scan"
	CodeProcessingFailed   = "processing_failed"
	CodeInferenceFailed    = "inference_failed"
	CodeServiceUnavailable = "service_unavailable"
	CodeServerError        = "server_error"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// parseJSON parses JSON from the request body into the given destination.
func parseJSON(r *http.Request, dest interface{}, log logger.Logger) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Warn(r.Context(), "failed to parse JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// parseScanIDOrRespond parses the scan ID path parameter. IDs that are not
// UUIDs cannot name a job, so they get a 404.
func parseScanIDOrRespond(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, CodeNotFound, "Scan ID not found")
		return uuid.Nil, false
	}
	return id, true
}

// mapError writes the response for an error returned by the scan service.
func mapError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	var scorerErr *scorer.Error

	switch {
	case errors.Is(err, scan.ErrJobNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, "Scan ID not found")
	case errors.Is(err, scan.ErrJobTerminal):
		respondError(w, http.StatusConflict, CodeScanClosed, err.Error())
	case errors.Is(err, analysis.ErrBatchScan):
		respondError(w, http.StatusConflict, CodeBatchScan, err.Error())
	case errors.Is(err, scan.ErrInvalidRole):
		respondError(w, http.StatusBadRequest, CodeInvalidPhotoType, err.Error())
	case errors.Is(err, analysis.ErrNoPhotos):
		respondError(w, http.StatusBadRequest, CodeMissingPhotos, "Harap unggah minimal satu foto obat.")
	case errors.Is(err, vectordb.ErrInvalidCatalog), errors.Is(err, vectordb.ErrEmptyCatalog):
		respondError(w, http.StatusBadRequest, CodeInvalidFormat, err.Error())
	case errors.As(err, &scorerErr):
		log.Error(r.Context(), "photo inference failed", map[string]interface{}{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, CodeInferenceFailed, err.Error())
	case errors.Is(err, analysis.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, err.Error())
	default:
		log.Error(r.Context(), "request failed", map[string]interface{}{
			"error": err.Error(),
			"path":  r.URL.Path,
		})
		respondError(w, http.StatusInternalServerError, CodeServerError, err.Error())
	}
}
