package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/export"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/store"
)

// Device is one record as the dashboard sees it: its JSON fields plus the
// scan_type it came from.
type Device map[string]interface{}

// DevicesResponse is the device list with counts per scan type.
type DevicesResponse struct {
	Devices        []Device `json:"devices"`
	Total          int      `json:"total"`
	NetworkCount   int      `json:"network_count"`
	WifiCount      int      `json:"wifi_count"`
	BluetoothCount int      `json:"bluetooth_count"`
	Timestamp      string   `json:"timestamp"`
}

// ScanTypeResponse lists the devices of one scan type.
type ScanTypeResponse struct {
	ScanType  records.ScanType `json:"scan_type"`
	Devices   []Device         `json:"devices"`
	Count     int              `json:"count"`
	Timestamp string           `json:"timestamp"`
}

// ScansResponse lists stored envelopes.
type ScansResponse struct {
	Scans []records.Envelope `json:"scans"`
	Total int                `json:"total"`
}

// DeviceHandler serves the device and scan queries.
type DeviceHandler struct {
	baseHandler
	store store.Store
}

// NewDeviceHandler creates a handler reading from s.
func NewDeviceHandler(s store.Store, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{baseHandler: newBaseHandler(logger), store: s}
}

// Snapshot returns the devices of the latest scan of each type.
func (h *DeviceHandler) Snapshot(ctx context.Context) (DevicesResponse, error) {
	envelopes, err := store.LatestEach(ctx, h.store)
	if err != nil {
		return DevicesResponse{}, err
	}

	resp := DevicesResponse{Devices: []Device{}, Timestamp: h.now().Format(time.RFC3339Nano)}
	for _, env := range envelopes {
		devices, err := devicesOf(env)
		if err != nil {
			return DevicesResponse{}, err
		}
		resp.Devices = append(resp.Devices, devices...)
		switch env.ScanType {
		case records.ScanNetwork:
			resp.NetworkCount += len(devices)
		case records.ScanWiFi:
			resp.WifiCount += len(devices)
		case records.ScanBluetooth:
			resp.BluetoothCount += len(devices)
		}
	}
	resp.Total = len(resp.Devices)
	return resp, nil
}

// Devices handles GET /api/devices.
func (h *DeviceHandler) Devices(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// ScanType handles GET /api/scan/{type}.
func (h *DeviceHandler) ScanType(w http.ResponseWriter, r *http.Request) {
	scanType, err := scanTypeVar(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp := ScanTypeResponse{ScanType: scanType, Devices: []Device{}, Timestamp: h.now().Format(time.RFC3339Nano)}
	env, err := h.store.Latest(r.Context(), scanType)
	switch {
	case store.IsNotFound(err):
	case err != nil:
		h.writeError(w, r, statusFor(err), err)
		return
	default:
		if resp.Devices, err = devicesOf(env); err != nil {
			h.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	resp.Count = len(resp.Devices)
	h.writeJSON(w, r, http.StatusOK, resp)
}

// Scans handles GET /api/scans.
func (h *DeviceHandler) Scans(w http.ResponseWriter, r *http.Request) {
	envelopes, err := h.store.All(r.Context())
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	if envelopes == nil {
		envelopes = []records.Envelope{}
	}
	h.writeJSON(w, r, http.StatusOK, ScansResponse{Scans: envelopes, Total: len(envelopes)})
}

// Latest handles GET /api/scans/latest/{type}.
func (h *DeviceHandler) Latest(w http.ResponseWriter, r *http.Request) {
	scanType, err := scanTypeVar(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	env, err := h.store.Latest(r.Context(), scanType)
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, env)
}

// Combined handles GET /api/scans/combined.
func (h *DeviceHandler) Combined(w http.ResponseWriter, r *http.Request) {
	combined, err := store.Combine(r.Context(), h.store, h.now())
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, combined)
}

// Export handles GET /api/export?format=json|csv.
func (h *DeviceHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := export.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := export.ParseFormat(f)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		format = parsed
	}

	envelopes, err := h.store.All(r.Context())
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	now := h.now()
	if err := export.Write(&buf, format, envelopes, now); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("export_%s.csv", now.Format("20060102_150405"))))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("Failed to write export", "error", err)
	}
}

func scanTypeVar(r *http.Request) (records.ScanType, error) {
	raw := mux.Vars(r)["type"]
	scanType, ok := records.ParseScanType(raw)
	if !ok {
		return "", errors.NewScanErrorWithTarget(errors.CodeValidation, "Unknown scan type", raw)
	}
	return scanType, nil
}

// devicesOf flattens the records of env into dashboard devices.
func devicesOf(env records.Envelope) ([]Device, error) {
	devices := make([]Device, 0, len(env.Data))
	for _, rec := range env.Data {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		device := Device{}
		if err := json.Unmarshal(data, &device); err != nil {
			return nil, err
		}
		device["scan_type"] = string(env.ScanType)
		devices = append(devices, device)
	}
	return devices, nil
}
