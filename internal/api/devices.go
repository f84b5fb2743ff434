package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
)

// deviceResponse is one device with all of its paths.
type deviceResponse struct {
	Identity device.Identity    `json:"identity"`
	Paths    []device.PathValue `json:"paths"`
}

// setPathRequest is the body of PUT .../paths/*.
type setPathRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	ids := make([]device.Identity, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.Identity())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": ids,
		"count":   len(ids),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse{Identity: d.Identity(), Paths: d.Values()})
}

func (s *Server) handleGetPath(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	pv, err := d.Describe(pathParam(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// handleSetPath applies an external write with origin "api".
func (s *Server) handleSetPath(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	path := pathParam(r)

	var req setPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, `body must contain "value"`)
		return
	}
	value, err := decodeValue(req.Value)
	if err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	if _, err := d.ExternalWrite(device.OriginAPI, path, value); err != nil {
		writeDeviceError(w, err)
		return
	}

	pv, err := d.Describe(path)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.VirtualDevice, bool) {
	d, err := s.registry.Get(chi.URLParam(r, "service"))
	if err != nil {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return d, true
}

// pathParam returns the device path captured by the trailing wildcard,
// e.g. "/Ac/MaxPower" for .../paths/Ac/MaxPower.
func pathParam(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

// decodeValue turns a JSON value into the device value model: integral
// numbers become int, others float64, null becomes nil.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		return n.Float64()
	}
	return v, nil
}

func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrUnknownPath):
		writeError(w, http.StatusNotFound, ErrCodeUnknownPath, err.Error())
	case errors.Is(err, device.ErrNotWritable):
		writeError(w, http.StatusForbidden, ErrCodeNotWritable, err.Error())
	case errors.Is(err, device.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidValue, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
