package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the scan and embedding API under /api.
func RegisterRoutes(router *mux.Router, scans *ScanHandler, embeddings *EmbeddingHandler) {
	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/scan", scans.Submit).Methods(http.MethodPost)
	api.HandleFunc("/scan/start", scans.Start).Methods(http.MethodPost)
	api.HandleFunc("/scan/{id}/photo", scans.UploadPhoto).Methods(http.MethodPost)
	api.HandleFunc("/scan/{id}/finish", scans.Finish).Methods(http.MethodPost)
	api.HandleFunc("/scan/{id}/status", scans.Status).Methods(http.MethodGet)
	api.HandleFunc("/scan/{id}/result", scans.Result).Methods(http.MethodGet)

	api.HandleFunc("/embeddings/current", embeddings.Current).Methods(http.MethodGet)
	api.HandleFunc("/embeddings/upload", embeddings.Upload).Methods(http.MethodPost)
	api.HandleFunc("/embedding/compare", embeddings.Compare).Methods(http.MethodPost)
	api.HandleFunc("/embedding/generate", embeddings.Generate).Methods(http.MethodPost)
}
