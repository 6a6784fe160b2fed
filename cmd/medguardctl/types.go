package main

import (
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/vectordb"
)

// ErrorResponse matches handlers.ErrorResponse.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ScanCreatedResponse matches handlers.ScanCreatedResponse.
type ScanCreatedResponse struct {
	ScanID               string `json:"scanId"`
	Status               string `json:"status"`
	EstimatedTimeSeconds *int   `json:"estimated_time_seconds,omitempty"`
}

// PhotoResponse matches handlers.PhotoResponse.
type PhotoResponse struct {
	PhotoType  string  `json:"photoType"`
	Prediction string  `json:"prediction"`
	Score      float64 `json:"score"`
}

// FinishResponse matches handlers.FinishResponse.
type FinishResponse struct {
	Status string            `json:"status"`
	Result *aggregate.Result `json:"result"`
}

// StatusResponse matches handlers.StatusResponse.
type StatusResponse struct {
	ScanID   string `json:"scanId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// PendingResponse matches handlers.PendingResponse.
type PendingResponse struct {
	Status string `json:"status"`
}

// CatalogStats matches the body of GET /api/embeddings/current.
type CatalogStats = vectordb.Stats
