package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/events"
	"github.com/hed1ad/netguard/pkg/inference"
	"github.com/hed1ad/netguard/pkg/store"
)

// Defaults of the recent anomalies query.
const (
	defaultRecentHours = 24
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// Request body limits. A detect body may hold maxEventBytes per allowed event
// plus the envelope.
const (
	maxEventBytes        = 1 << 10
	maxEnvelopeBytes     = 4 << 10
	maxForecastBodyBytes = 1 << 20
)

// DetectRequest is the body of POST /api/v1/anomaly/detect.
type DetectRequest struct {
	Events    events.Batch `json:"events"`
	Threshold *float64     `json:"threshold,omitempty"`
}

// DetectResponse is the reply of POST /api/v1/anomaly/detect.
type DetectResponse struct {
	AnomaliesDetected int                 `json:"anomalies_detected"`
	TotalEvents       int                 `json:"total_events"`
	AnomalyRate       float64             `json:"anomaly_rate"`
	Degraded          bool                `json:"degraded"`
	Results           []anomaly.Detection `json:"results"`
}

// RecentResponse is the reply of GET /api/v1/anomaly/recent.
type RecentResponse struct {
	Anomalies      []store.Prediction `json:"anomalies"`
	Count          int                `json:"count"`
	TimeRangeHours int                `json:"time_range_hours"`
}

// ModelResponse is the reply of the model routes.
type ModelResponse struct {
	Status            string             `json:"status"`
	ModelPath         string             `json:"model_path"`
	Model             *anomaly.Info      `json:"model,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	LastLatencyMs     float64            `json:"last_latency_ms"`
}

// ForecastRequest is the body of POST /api/v1/forecast/capacity.
type ForecastRequest struct {
	History []float64 `json:"history"`
	Steps   int       `json:"steps"`
}

// ForecastResponse is the reply of POST /api/v1/forecast/capacity.
type ForecastResponse struct {
	Forecast []float64 `json:"forecast"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC(),
		"model_loaded": s.engine.Ready(),
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	limit := int64(s.maxBatch)*maxEventBytes + maxEnvelopeBytes
	if !decodeBody(w, r, limit, &req) {
		return
	}
	if len(req.Events) > s.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch of %d events exceeds the limit of %d", len(req.Events), s.maxBatch))
		return
	}

	start := time.Now()
	result, err := s.engine.DetectAnomalies(req.Events, req.Threshold)
	if err != nil {
		s.logger.Error("anomaly detection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "anomaly detection failed")
		return
	}
	latency := time.Since(start)

	if !result.Degraded && result.AnomalyCount() > 0 {
		s.record(r, result, latency)
	}

	rows := result.Rows
	if rows == nil {
		rows = []anomaly.Detection{}
	}
	writeJSON(w, http.StatusOK, DetectResponse{
		AnomaliesDetected: result.AnomalyCount(),
		TotalEvents:       result.Total(),
		AnomalyRate:       result.AnomalyRate(),
		Degraded:          result.Degraded,
		Results:           rows,
	})
}

// record stores and publishes detected anomalies. Failures are logged and do
// not fail the request.
func (s *Server) record(r *http.Request, result *anomaly.Result, latency time.Duration) {
	if s.store != nil {
		version := anomaly.Version
		if m := s.engine.Model(); m != nil {
			version = m.Version()
		}
		if _, err := s.store.SaveDetections(r.Context(), result, version, latency); err != nil {
			s.logger.Error("failed to store detections", zap.Error(err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), result); err != nil {
			s.logger.Error("failed to publish alerts", zap.Error(err))
		}
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction store not configured")
		return
	}

	hours, err := queryInt(r, "hours", defaultRecentHours)
	if err != nil || hours <= 0 {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultRecentLimit)
	if err != nil || limit <= 0 || limit > maxRecentLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be in [1, %d]", maxRecentLimit))
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	predictions, err := s.store.Recent(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("failed to query recent anomalies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query recent anomalies")
		return
	}
	if predictions == nil {
		predictions = []store.Prediction{}
	}

	writeJSON(w, http.StatusOK, RecentResponse{
		Anomalies:      predictions,
		Count:          len(predictions),
		TimeRangeHours: hours,
	})
}

func (s *Server) modelResponse() ModelResponse {
	resp := ModelResponse{
		Status:        "degraded",
		ModelPath:     s.engine.ModelPath(),
		LastLatencyMs: float64(s.engine.LastLatency()) / float64(time.Millisecond),
	}

	if m := s.engine.Model(); m != nil {
		info := m.Info()
		resp.Status = "ready"
		resp.Model = &info
		resp.FeatureImportance = m.FeatureImportance()
	}
	return resp
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modelResponse())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(); err != nil {
		s.logger.Error("model reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "model reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.modelResponse())
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if !decodeBody(w, r, maxForecastBodyBytes, &req) {
		return
	}

	out, err := s.engine.ForecastCapacity(req.History, req.Steps)
	switch {
	case errors.Is(err, inference.ErrNoForecaster):
		writeError(w, http.StatusNotImplemented, "capacity forecasting not configured")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ForecastResponse{Forecast: out})
}

// decodeBody decodes at most limit bytes of JSON from the request body into
// v. On failure it writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON request body")
	return false
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
