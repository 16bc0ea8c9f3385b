package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/watchme-core/internal/backend"
	"github.com/nerrad567/watchme-core/internal/device"
)

type ownerRequest struct {
	OwnerUserID string `json:"owner_user_id"`
}

type selectRequest struct {
	DeviceID string `json:"device_id"`
}

// decodeOptionalJSON decodes the request body into v. An empty body is
// not an error.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ownerFor returns the requested owner, falling back to the signed-in user.
func (s *Server) ownerFor(requested string) string {
	if requested != "" || s.session == nil {
		return requested
	}
	id, _ := s.session.UserID()
	return id
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.Snapshot())
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.devices.DeviceInfo()
	if !ok {
		writeNotFound(w, "device is not registered")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleRegister registers this installation. The owner comes from the
// body, else the session; neither means a guest registration.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.RegisterDevice(r.Context(), s.ownerFor(req.OwnerUserID)); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.devices.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.ResetDeviceRegistration(r.Context()); err != nil {
		s.logger.Error("device reset failed", "error", err)
		writeInternalError(w, "device reset failed")
		return
	}
	writeJSON(w, http.StatusOK, s.devices.Snapshot())
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	state := s.devices.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":            state.UserDevices,
		"selected_device_id": state.SelectedDeviceID,
		"count":              len(state.UserDevices),
	})
}

func (s *Server) handleFetchDevices(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.FetchUserDevices(r.Context(), s.ownerFor(req.OwnerUserID)); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	s.handleListDevices(w, r)
}

// handleSelectDevice accepts only ids from the fetched device list.
func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "device_id is required")
		return
	}

	if !s.devices.SelectDevice(req.DeviceID) {
		writeNotFound(w, "device is not in the user's device list")
		return
	}
	writeJSON(w, http.StatusOK, s.devices.Snapshot())
}

// writeDeviceError maps manager and backend errors onto HTTP statuses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrEmptyOwner):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "owner_user_id is required")
	case errors.Is(err, device.ErrMissingPlatformIdentifier):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		// Checked before ErrNetwork: timeouts arrive wrapped in it.
		writeError(w, http.StatusGatewayTimeout, ErrCodeBackend, err.Error())
	case errors.Is(err, backend.ErrNetwork),
		errors.Is(err, backend.ErrUnexpectedStatus),
		errors.Is(err, backend.ErrInvalidResponse),
		errors.Is(err, backend.ErrNoDeviceReturned):
		writeError(w, http.StatusBadGateway, ErrCodeBackend, err.Error())
	default:
		s.logger.Error("device operation failed", "error", err)
		writeInternalError(w, "device operation failed")
	}
}
