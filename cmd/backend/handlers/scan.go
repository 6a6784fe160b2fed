package handlers

import (
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
)

// ScanHandler serves the batch and sequential scan protocol.
type ScanHandler struct {
	service      *analysis.Service
	maxPhotoSize int64
	logger       logger.Logger
}

// NewScanHandler creates a new scan handler. A non-positive maxPhotoSize
// uses DefaultMaxPhotoSize.
func NewScanHandler(service *analysis.Service, maxPhotoSize int64, log logger.Logger) *ScanHandler {
	if maxPhotoSize <= 0 {
		maxPhotoSize = DefaultMaxPhotoSize
	}
	return &ScanHandler{
		service:      service,
		maxPhotoSize: maxPhotoSize,
		logger:       log,
	}
}

// ScanCreatedResponse is returned when a scan job is created.
type ScanCreatedResponse struct {
	ScanID               string      `json:"scanId"`
	Status               scan.Status `json:"status"`
	EstimatedTimeSeconds *int        `json:"estimated_time_seconds,omitempty"`
}

// PhotoResponse is returned for a scored sequential upload.
type PhotoResponse struct {
	PhotoType  scan.Role    `json:"photoType"`
	Prediction scorer.Label `json:"prediction"`
	Score      float64      `json:"score"`
}

// FinishResponse is returned when a scan is finalized.
type FinishResponse struct {
	Status scan.Status       `json:"status"`
	Result *aggregate.Result `json:"result"`
}

// StatusResponse is the polling view of a scan.
type StatusResponse struct {
	ScanID   string      `json:"scanId"`
	Status   scan.Status `json:"status"`
	Progress int         `json:"progress"`
}

// PendingResponse is returned by Result while the scan is still running.
type PendingResponse struct {
	Status scan.Status `json:"status"`
}

// parseForm parses a multipart body of at most limit bytes. It reports false
// after writing the error response.
func (h *ScanHandler) parseForm(w http.ResponseWriter, r *http.Request, limit int64, emptyCode string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(h.maxPhotoSize); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusBadRequest, CodeFileTooLarge, "request body too large")
		case errors.Is(err, http.ErrNotMultipart):
			respondError(w, http.StatusBadRequest, emptyCode, "multipart form data required")
		default:
			h.logger.Warn(r.Context(), "failed to parse multipart form", map[string]interface{}{
				"error": err.Error(),
			})
			respondError(w, http.StatusBadRequest, CodeInvalidFormat, "invalid form data")
		}
		return false
	}
	return true
}

// Submit handles batch scan submission.
func (h *ScanHandler) Submit(w http.ResponseWriter, r *http.Request) {
	limit := int64(len(scan.Roles))*h.maxPhotoSize + multipartOverhead
	if !h.parseForm(w, r, limit, CodeMissingPhotos) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	byRole := make(map[scan.Role]*multipart.FileHeader)
	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		files := r.MultipartForm.File[field]
		if len(files) == 0 {
			continue
		}
		role, err := batchFieldRole(field)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidPhotoType, err.Error())
			return
		}
		if _, dup := byRole[role]; !dup {
			byRole[role] = files[0]
		}
	}

	var photos []analysis.Photo
	for _, role := range scan.Roles {
		fh, ok := byRole[role]
		if !ok {
			continue
		}
		p, err := readPhoto(fh, role, h.maxPhotoSize)
		if err != nil {
			respondUploadError(w, err)
			return
		}
		photos = append(photos, p)
	}

	j, delay, err := h.service.SubmitBatch(r.Context(), photos)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	seconds := int(math.Ceil(delay.Seconds()))
	respondJSON(w, http.StatusCreated, ScanCreatedResponse{
		ScanID:               j.ID.String(),
		Status:               j.Status,
		EstimatedTimeSeconds: &seconds,
	})
}

// Start handles creating an empty sequential scan.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	j, err := h.service.Start(r.Context())
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, ScanCreatedResponse{
		ScanID: j.ID.String(),
		Status: j.Status,
	})
}

// UploadPhoto handles a single sequential photo upload and scores it.
func (h *ScanHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanIDOrRespond(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	if !h.parseForm(w, r, h.maxPhotoSize+multipartOverhead, CodeMissingFile) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	photoType := r.FormValue("photoType")
	if photoType == "" {
		respondError(w, http.StatusBadRequest, CodeMissingPhotoType, "photoType is required")
		return
	}
	role, err := scan.ParseRole(photoType)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidPhotoType, err.Error())
		return
	}

	files := r.MultipartForm.File["photo"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, CodeMissingFile, "photo file is required")
		return
	}
	photo, err := readPhoto(files[0], role, h.maxPhotoSize)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	score, err := h.service.AcceptPhoto(r.Context(), id, photo)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, PhotoResponse{
		PhotoType:  score.Role,
		Prediction: score.Prediction,
		Score:      score.Score,
	})
}

// Finish handles finalizing a scan from its stored scores.
func (h *ScanHandler) Finish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanIDOrRespond(w, r)
	if !ok {
		return
	}

	j, err := h.service.Finalize(r.Context(), id)
	if err != nil {
		if errors.Is(err, scan.ErrJobTerminal) {
			respondError(w, http.StatusConflict, CodeProcessingFailed, "scan has already failed")
			return
		}
		mapError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, FinishResponse{Status: j.Status, Result: j.Result})
}

// Status handles polling a scan's progress.
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanIDOrRespond(w, r)
	if !ok {
		return
	}

	j, err := h.service.Get(r.Context(), id)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		ScanID:   j.ID.String(),
		Status:   j.Status,
		Progress: j.Progress(),
	})
}

// Result handles fetching a finalized scan result.
func (h *ScanHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScanIDOrRespond(w, r)
	if !ok {
		return
	}

	j, err := h.service.Get(r.Context(), id)
	if err != nil {
		mapError(w, r, h.logger, err)
		return
	}

	switch j.Status {
	case scan.StatusCompleted:
		respondJSON(w, http.StatusOK, j.Result)
	case scan.StatusFailed:
		respondError(w, http.StatusBadRequest, CodeProcessingFailed, j.Error)
	default:
		respondJSON(w, http.StatusAccepted, PendingResponse{Status: j.Status})
	}
}
