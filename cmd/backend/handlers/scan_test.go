package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngPart(t *testing.T, field string) testutil.FilePart {
	return testutil.FilePart{Field: field, Filename: field + ".png", ContentType: "image/png", Data: testutil.PNGBytes(t)}
}

func TestScanHandler_Submit(t *testing.T) {
	t.Run("batch scan completes", func(t *testing.T) {
		env := newTestEnv(t, envOptions{scorer: roleScorer(map[scan.Role]float64{
			scan.RoleFront: 0.2,
			scan.RoleBack:  0.3,
		}, nil)})

		body, ct := testutil.MultipartBody(t, nil, pngPart(t, "front_image"), pngPart(t, "back"))
		rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var created ScanCreatedResponse
		decode(t, rec, &created)
		assert.Equal(t, scan.StatusProcessing, created.Status)
		require.NotNil(t, created.EstimatedTimeSeconds)
		assert.Equal(t, 0, *created.EstimatedTimeSeconds)
		_, err := uuid.Parse(created.ScanID)
		require.NoError(t, err)

		var result aggregate.Result
		require.Eventually(t, func() bool {
			rec := env.do(t, http.MethodGet, "/api/scan/"+created.ScanID+"/result", nil, "")
			if rec.Code != http.StatusOK {
				return false
			}
			decode(t, rec, &result)
			return true
		}, 3*time.Second, 10*time.Millisecond)

		assert.Equal(t, created.ScanID, result.ScanID)
		assert.InDelta(t, 0.25, result.AvgScore, 1e-9)
		assert.Equal(t, 94, result.Probability)
		assert.Equal(t, aggregate.BandAsli, result.Authenticity)
		assert.Equal(t, []string{"front", "back"}, result.UploadedPhotos)
		assert.Nil(t, result.Peringatan)

		rec = env.do(t, http.MethodGet, "/api/scan/"+created.ScanID+"/status", nil, "")
		var status StatusResponse
		decode(t, rec, &status)
		assert.Equal(t, scan.StatusCompleted, status.Status)
		assert.Equal(t, 100, status.Progress)
	})

	t.Run("no photos", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		body, ct := testutil.MultipartBody(t, map[string]string{"note": "x"})
		rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeMissingPhotos, errorCode(t, rec))

		rec = env.do(t, http.MethodPost, "/api/scan", strings.NewReader("{}"), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeMissingPhotos, errorCode(t, rec))
	})

	t.Run("unknown role field", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		body, ct := testutil.MultipartBody(t, nil, pngPart(t, "side_image"))
		rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidPhotoType, errorCode(t, rec))
	})

	t.Run("non-image content", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})

		part := testutil.FilePart{Field: "front", Filename: "front.png", ContentType: "image/png", Data: []byte("not an image at all")}
		body, ct := testutil.MultipartBody(t, nil, part)
		rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeInvalidFileType, errorCode(t, rec))
	})

	t.Run("file over the limit", func(t *testing.T) {
		env := newTestEnv(t, envOptions{maxPhotoSize: 64})

		part := pngPart(t, "front")
		part.Data = append(part.Data, make([]byte, 128)...)
		body, ct := testutil.MultipartBody(t, nil, part)
		rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeFileTooLarge, errorCode(t, rec))
	})
}

func TestScanHandler_BatchRejectsSequentialOperations(t *testing.T) {
	env := newTestEnv(t, envOptions{scorer: roleScorer(map[scan.Role]float64{
		scan.RoleFront: 0.2,
		scan.RoleBack:  0.3,
	}, nil)})

	body, ct := testutil.MultipartBody(t, nil, pngPart(t, "front_image"), pngPart(t, "back_image"))
	rec := env.do(t, http.MethodPost, "/api/scan", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created ScanCreatedResponse
	decode(t, rec, &created)
	base := "/api/scan/" + created.ScanID

	rec = env.do(t, http.MethodPost, base+"/finish", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeBatchScan, errorCode(t, rec))

	body, ct = testutil.MultipartBody(t, map[string]string{"photoType": "left"}, pngPart(t, "photo"))
	rec = env.do(t, http.MethodPost, base+"/photo", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeBatchScan, errorCode(t, rec))

	var result aggregate.Result
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, base+"/result", nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		decode(t, rec, &result)
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 94, result.Probability)
	assert.Equal(t, aggregate.BandAsli, result.Authenticity)
	assert.Equal(t, map[string]float64{"front": 0.2, "back": 0.3}, result.PerPhotoScores)
	assert.Equal(t, []string{"front", "back"}, result.UploadedPhotos)

	rec = env.do(t, http.MethodPost, base+"/finish", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeBatchScan, errorCode(t, rec))
}

func TestScanHandler_SequentialFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{scorer: roleScorer(
		map[scan.Role]float64{scan.RoleFront: 0.01, scan.RoleBack: 0.01},
		map[scan.Role]error{scan.RoleLeft: &scorer.Error{Kind: scorer.ErrTimeout, Image: "left"}},
	)})

	rec := env.do(t, http.MethodPost, "/api/scan/start", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ScanCreatedResponse
	decode(t, rec, &created)
	assert.Equal(t, scan.StatusPending, created.Status)
	assert.Nil(t, created.EstimatedTimeSeconds)

	base := "/api/scan/" + created.ScanID

	rec = env.do(t, http.MethodGet, base+"/status", nil, "")
	var status StatusResponse
	decode(t, rec, &status)
	assert.Equal(t, 0, status.Progress)

	rec = env.do(t, http.MethodGet, base+"/result", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var pending PendingResponse
	decode(t, rec, &pending)
	assert.Equal(t, scan.StatusPending, pending.Status)

	upload := func(photoType string) (int, string) {
		body, ct := testutil.MultipartBody(t, map[string]string{"photoType": photoType}, pngPart(t, "photo"))
		rec := env.do(t, http.MethodPost, base+"/photo", body, ct)
		return rec.Code, rec.Body.String()
	}

	code, raw := upload("front")
	require.Equal(t, http.StatusOK, code, raw)
	assert.Contains(t, raw, `"photoType":"front"`)
	assert.Contains(t, raw, `"prediction":"REAL"`)
	assert.Contains(t, raw, `"score":0.01`)

	code, _ = upload("BACK")
	require.Equal(t, http.StatusOK, code)

	code, raw = upload("left")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, raw, CodeInferenceFailed)

	rec = env.do(t, http.MethodGet, base+"/status", nil, "")
	decode(t, rec, &status)
	assert.Equal(t, scan.StatusProcessing, status.Status)
	assert.Equal(t, 50, status.Progress)

	rec = env.do(t, http.MethodPost, base+"/finish", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var finished FinishResponse
	decode(t, rec, &finished)
	assert.Equal(t, scan.StatusCompleted, finished.Status)
	require.NotNil(t, finished.Result)
	assert.Equal(t, 100, finished.Result.Probability)
	assert.Equal(t, aggregate.BandAsli, finished.Result.Authenticity)
	assert.Equal(t, []string{"front", "back", "left"}, finished.Result.UploadedPhotos)
	assert.Len(t, finished.Result.PerPhotoScores, 2)

	rec = env.do(t, http.MethodGet, base+"/result", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/finish", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "repeat finish recomputes")

	code, raw = upload("right")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, raw, CodeScanClosed)
}

func TestScanHandler_UploadPhotoValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	j, err := env.service.Start(context.Background())
	require.NoError(t, err)
	path := "/api/scan/" + j.ID.String() + "/photo"

	tests := []struct {
		name     string
		path     string
		fields   map[string]string
		files    []testutil.FilePart
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown scan",
			path:     "/api/scan/" + uuid.New().String() + "/photo",
			fields:   map[string]string{"photoType": "front"},
			files:    []testutil.FilePart{pngPart(t, "photo")},
			wantCode: http.StatusNotFound,
			wantErr:  CodeNotFound,
		},
		{
			name:     "malformed scan id",
			path:     "/api/scan/not-a-uuid/photo",
			fields:   map[string]string{"photoType": "front"},
			files:    []testutil.FilePart{pngPart(t, "photo")},
			wantCode: http.StatusNotFound,
			wantErr:  CodeNotFound,
		},
		{
			name:     "missing photo type",
			path:     path,
			files:    []testutil.FilePart{pngPart(t, "photo")},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeMissingPhotoType,
		},
		{
			name:     "unknown photo type",
			path:     path,
			fields:   map[string]string{"photoType": "top"},
			files:    []testutil.FilePart{pngPart(t, "photo")},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeInvalidPhotoType,
		},
		{
			name:     "missing file",
			path:     path,
			fields:   map[string]string{"photoType": "front"},
			wantCode: http.StatusBadRequest,
			wantErr:  CodeMissingFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := testutil.MultipartBody(t, tt.fields, tt.files...)
			rec := env.do(t, http.MethodPost, tt.path, body, ct)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}

	snap, err := env.service.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusPending, snap.Status, "rejected uploads must not touch the job")
	assert.Empty(t, snap.Photos)
}

func TestScanHandler_FailedScan(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	j, err := env.service.Start(ctx)
	require.NoError(t, err)
	_, err = env.store.Mutate(ctx, j.ID, scan.Fail("scorer offline"))
	require.NoError(t, err)
	base := "/api/scan/" + j.ID.String()

	rec := env.do(t, http.MethodGet, base+"/result", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeProcessingFailed, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, base+"/finish", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeProcessingFailed, errorCode(t, rec))

	rec = env.do(t, http.MethodGet, base+"/status", nil, "")
	var status StatusResponse
	decode(t, rec, &status)
	assert.Equal(t, scan.StatusFailed, status.Status)
	assert.Equal(t, 100, status.Progress)
}

func TestScanHandler_NotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := uuid.New().String()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/scan/" + id + "/status"},
		{http.MethodGet, "/api/scan/" + id + "/result"},
		{http.MethodPost, "/api/scan/" + id + "/finish"},
		{http.MethodGet, "/api/scan/abc/status"},
	} {
		rec := env.do(t, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.Equal(t, CodeNotFound, errorCode(t, rec))
	}
}
