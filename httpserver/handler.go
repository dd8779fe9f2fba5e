package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avolkens/device-dispatch-backend/dispatch"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/liveness"
	"github.com/avolkens/device-dispatch-backend/metrics"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024

	// defaultOfflineThreshold applies when a status query carries no
	// offline_threshold_ms parameter.
	defaultOfflineThreshold = time.Minute
)

// Handler processes HTTP requests for the dispatch service. Business
// failures travel inside 200 responses as negative status codes; HTTP
// error statuses are reserved for malformed requests and infrastructure
// faults.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	queue      interfaces.TaskQueue
	tasks      interfaces.TaskStore
	verifier   *liveness.Verifier
	log        *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
func NewHandler(dispatcher *dispatch.Dispatcher, queue interfaces.TaskQueue, tasks interfaces.TaskStore, verifier *liveness.Verifier, log *slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		queue:      queue,
		tasks:      tasks,
		verifier:   verifier,
		log:        log,
	}
}

// DispatchRequest is the body of POST /api/tasks/dispatch.
type DispatchRequest struct {
	DeviceID     string         `json:"device_id"`
	Template     string         `json:"template"`
	Props        map[string]any `json:"props"`
	ExecutionCwd string         `json:"execution_cwd"`
}

// ConsumeResponse is the body of POST /api/devices/{device_id}/consume.
// TaskID is null when the queue is empty.
type ConsumeResponse struct {
	TaskID *string `json:"task_id"`
}

// ReportRequest is the body of POST /api/devices/{device_id}/reports.
// Plaintext and cipher travel base64-encoded.
type ReportRequest struct {
	ReporterID string `json:"reporter_id"`
	Plaintext  string `json:"plaintext_b64"`
	Cipher     string `json:"cipher_b64"`
	System     string `json:"system"`
}

// DeviceStatusResponse is the body of GET /api/devices/{device_id}/status.
type DeviceStatusResponse struct {
	Offline    bool                    `json:"offline"`
	StatusCode interfaces.ReportStatus `json:"status_code"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) deviceIDFromPath(r *http.Request) (interfaces.DeviceID, error) {
	return interfaces.NewDeviceID(r.PathValue("device_id"))
}

// HandleDispatch processes a task dispatch request.
//
// URL format: POST /api/tasks/dispatch
// Request body: JSON {device_id, template, props, execution_cwd}
//
// Response: the task projection. Business failures (missing key,
// contended lock, template error, wrap error) are 200 responses with a
// negative status field; only malformed input and store faults map to
// HTTP errors.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	deviceID, err := interfaces.NewDeviceID(req.DeviceID)
	if err != nil {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}
	if req.Template == "" {
		http.Error(w, "Missing template", http.StatusBadRequest)
		return
	}

	proj, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		DeviceID:     deviceID,
		Template:     req.Template,
		Props:        req.Props,
		ExecutionCwd: req.ExecutionCwd,
	})
	if err != nil {
		h.log.Error("Dispatch failed", "err", err, slog.String("device", deviceID.String()))
		http.Error(w, "Dispatch failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, proj)
}

// HandleGetTask returns a stored task projection.
//
// URL format: GET /api/tasks/{task_id}
func (h *Handler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := interfaces.NewTaskIDFromString(r.PathValue("task_id"))
	if err != nil {
		http.Error(w, "Invalid task id", http.StatusBadRequest)
		return
	}

	task, err := h.tasks.Get(r.Context(), taskID)
	if errors.Is(err, interfaces.ErrTaskNotFound) {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Task lookup failed", "err", err, slog.String("task", taskID.String()))
		http.Error(w, "Task lookup failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, task.Projection())
}

// HandleConsume pops the oldest pending task id for a device.
//
// URL format: POST /api/devices/{device_id}/consume
// Response: {"task_id": "..."} or {"task_id": null} on an empty queue.
func (h *Handler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	deviceID, err := h.deviceIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	taskID, ok, err := h.queue.Consume(r.Context(), deviceID)
	if err != nil {
		h.log.Error("Consume failed", "err", err, slog.String("device", deviceID.String()))
		http.Error(w, "Consume failed", http.StatusInternalServerError)
		return
	}

	resp := ConsumeResponse{}
	if ok {
		id := taskID.String()
		resp.TaskID = &id
		metrics.TasksConsumedTotal.Inc()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleReport verifies a challenge round-trip and persists the
// resulting status report.
//
// URL format: POST /api/devices/{device_id}/reports
// Request body: JSON {reporter_id, plaintext_b64, cipher_b64, system}
//
// Response: the persisted report with its resolved status code. A
// failed verification is a negative code inside a 200, not an HTTP
// error.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	deviceID, err := h.deviceIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ReporterID == "" {
		http.Error(w, "Missing reporter id", http.StatusBadRequest)
		return
	}

	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		http.Error(w, "Invalid plaintext encoding", http.StatusBadRequest)
		return
	}
	cipher, err := base64.StdEncoding.DecodeString(req.Cipher)
	if err != nil {
		http.Error(w, "Invalid cipher encoding", http.StatusBadRequest)
		return
	}

	report, err := h.verifier.Report(r.Context(), req.ReporterID, deviceID, plaintext, cipher, req.System)
	if err != nil {
		h.log.Error("Status report failed", "err", err, slog.String("device", deviceID.String()))
		http.Error(w, "Status report failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleDeviceStatus derives the device's current liveness.
//
// URL format: GET /api/devices/{device_id}/status?offline_threshold_ms=60000
// Response: {"offline": bool, "status_code": int}
func (h *Handler) HandleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, err := h.deviceIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	threshold := defaultOfflineThreshold
	if raw := r.URL.Query().Get("offline_threshold_ms"); raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || millis <= 0 {
			http.Error(w, "Invalid offline threshold", http.StatusBadRequest)
			return
		}
		threshold = time.Duration(millis) * time.Millisecond
	}

	offline, code, err := h.verifier.CurrentStatus(r.Context(), deviceID, threshold)
	if err != nil {
		h.log.Error("Status query failed", "err", err, slog.String("device", deviceID.String()))
		http.Error(w, "Status query failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, DeviceStatusResponse{Offline: offline, StatusCode: code})
}
