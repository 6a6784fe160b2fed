package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/medguard-ai/medguard/aggregate"
)

// errPending is returned by Result while the scan is still running.
var errPending = errors.New("scan result is not ready")

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Code)
}

// Client is an HTTP client for the MedGuard API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	debug      bool
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, debug bool) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		debug: debug,
	}
}

func getClient() *Client {
	return NewClient(getConfigURL(), getConfigTimeout(), flagDebug)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	if c.debug {
		fmt.Fprintf(os.Stderr, "DEBUG: %s %s\n", req.Method, req.URL.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		fmt.Fprintf(os.Stderr, "DEBUG: Status %d\n", resp.StatusCode)
		fmt.Fprintf(os.Stderr, "DEBUG: Body: %s\n", string(body))
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message}
		}
		return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Code: string(body)}
	}

	return resp.StatusCode, body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return c.decode(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.decode(req, out)
}

// postFiles uploads files keyed by form field, plus plain form values.
func (c *Client) postFiles(ctx context.Context, path string, values map[string]string, files map[string]string, out interface{}) (int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			return 0, err
		}
	}
	for field, filePath := range files {
		f, err := os.Open(filePath)
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", filePath, err)
		}
		part, err := mw.CreateFormFile(field, filepath.Base(filePath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to attach %s: %w", filePath, err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.decode(req, out)
}

func (c *Client) decode(req *http.Request, out interface{}) (int, error) {
	status, body, err := c.do(req)
	if err != nil {
		return status, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return status, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return status, nil
}

// SubmitBatch uploads one photo per role and returns the new scan.
func (c *Client) SubmitBatch(ctx context.Context, photos map[string]string) (*ScanCreatedResponse, error) {
	files := make(map[string]string, len(photos))
	for role, p := range photos {
		files[role+"_image"] = p
	}

	var resp ScanCreatedResponse
	if _, err := c.postFiles(ctx, "/api/scan", nil, files, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartScan opens a sequential scan.
func (c *Client) StartScan(ctx context.Context) (*ScanCreatedResponse, error) {
	var resp ScanCreatedResponse
	if _, err := c.postJSON(ctx, "/api/scan/start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadPhoto sends one photo of a sequential scan and returns its score.
func (c *Client) UploadPhoto(ctx context.Context, scanID, role, path string) (*PhotoResponse, error) {
	var resp PhotoResponse
	_, err := c.postFiles(ctx, "/api/scan/"+scanID+"/photo",
		map[string]string{"photoType": role},
		map[string]string{"photo": path},
		&resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Finish finalizes a sequential scan.
func (c *Client) Finish(ctx context.Context, scanID string) (*FinishResponse, error) {
	var resp FinishResponse
	if _, err := c.postJSON(ctx, "/api/scan/"+scanID+"/finish", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the polling view of a scan.
func (c *Client) Status(ctx context.Context, scanID string) (*StatusResponse, error) {
	var resp StatusResponse
	if _, err := c.getJSON(ctx, "/api/scan/"+scanID+"/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Result returns the final result, or errPending while the scan runs.
func (c *Client) Result(ctx context.Context, scanID string) (*aggregate.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/scan/"+scanID+"/result", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, errPending
	}

	var res aggregate.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &res, nil
}

// WaitForResult polls Result every interval until it is ready or ctx ends.
func (c *Client) WaitForResult(ctx context.Context, scanID string, interval time.Duration) (*aggregate.Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := c.Result(ctx, scanID)
		if !errors.Is(err, errPending) {
			return res, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for scan %s: %w", scanID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CatalogStats returns the active reference catalog summary.
func (c *Client) CatalogStats(ctx context.Context) (*CatalogStats, error) {
	var resp CatalogStats
	if _, err := c.getJSON(ctx, "/api/embeddings/current", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadCatalog replaces the reference catalog with the file at path.
func (c *Client) UploadCatalog(ctx context.Context, path string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if _, err := c.postFiles(ctx, "/api/embeddings/upload", nil, map[string]string{"embeddings": path}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
