package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/watchme-core/internal/report"
)

type changeDateRequest struct {
	Days int `json:"days"`
}

type toggleRequest struct {
	Time string `json:"time"`
}

// handleGetReport loads the report for ?date=yyyy-MM-dd, or reloads the
// currently selected day when date is absent.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeNotFound(w, "reports are not enabled")
		return
	}

	var err error
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, perr := time.ParseInLocation(report.DateLayout, raw, s.location)
		if perr != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "date must be yyyy-mm-dd")
			return
		}
		err = s.reports.SetDate(r.Context(), day)
	} else {
		err = s.reports.Load(r.Context())
	}
	s.writeReport(w, err)
}

// handleChangeReportDate moves the selected day by {"days": n}.
func (s *Server) handleChangeReportDate(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeNotFound(w, "reports are not enabled")
		return
	}

	var req changeDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.writeReport(w, s.reports.ChangeDate(r.Context(), req.Days))
}

// handleToggleTimeBlock flips one slot's expanded flag. Unknown slots are
// simply recorded; toggling never fails.
func (s *Server) handleToggleTimeBlock(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeNotFound(w, "reports are not enabled")
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.reports.ToggleTimeBlock(req.Time)
	writeJSON(w, http.StatusOK, s.reports.State())
}

// writeReport writes the view state, or the error that kept it from
// loading. A day without data is a 200 with a null report.
func (s *Server) writeReport(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.reports.State())
	case errors.Is(err, report.ErrNoActiveSession):
		writeError(w, http.StatusUnauthorized, ErrCodeNoSession, err.Error())
	case errors.Is(err, report.ErrNoDeviceRegistered):
		writeError(w, http.StatusConflict, ErrCodeNoDevice, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeBackend, err.Error())
	}
}
