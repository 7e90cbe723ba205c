package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
	"paperTrader/internal/report"
	"paperTrader/internal/risk"
)

type routeMux interface {
	Handle(pattern string, h http.Handler)
}

func (s *Service) mountRoutes(mux routeMux) {
	mux.Handle("/health", http.HandlerFunc(s.handleHealth))
	mux.Handle("/dashboard", http.HandlerFunc(s.handleDashboard))
	mux.Handle("/report", http.HandlerFunc(s.handleReport))
	mux.Handle("/emergency/stop", http.HandlerFunc(s.handleEmergencyStop))
	mux.Handle("/emergency/reset", http.HandlerFunc(s.handleEmergencyReset))
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
}

// Report assembles the current account, risk and monitoring state.
func (s *Service) Report(now time.Time) report.Report {
	summary := s.risk.GetRiskSummary()
	dashboard := s.monitor.GetDashboardData()
	return report.Build(report.Inputs{
		Account:      s.account.GetAccountSummary(),
		Trades:       s.account.Trades(),
		Risk:         &summary,
		Dashboard:    &dashboard,
		MonthlyCosts: s.cfg.MonthlyCosts,
		Now:          now,
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.monitor.GetSystemHealth()
	status := http.StatusOK
	if health.Status == domain.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetDashboardData())
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	format := report.FormatJSON
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := report.ParseFormat(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}
	if format == report.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := s.Report(time.Now()).Encode(w, format); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode report")
	}
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

type emergencyResetRequest struct {
	Confirm bool   `json:"confirm"`
	Code    string `json:"code"`
}

func (s *Service) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, errors.New("a non-empty reason is required"))
		return
	}
	err := s.risk.EmergencyStop(r.Context(), "manual: "+req.Reason)
	if err != nil {
		// The cascade still ran; report the partial failures.
		s.logger.Error(r.Context(), err, "Emergency stop completed with errors")
	}
	writeJSON(w, http.StatusOK, s.risk.GetRiskSummary())
}

func (s *Service) handleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req emergencyResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.risk.ResetEmergencyStop(r.Context(), risk.Override{Confirm: req.Confirm, Code: req.Code})
	switch {
	case errors.Is(err, ports.ErrOverrideRejected):
		writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.strategy != nil {
		s.strategy.Resume(r.Context())
	}
	writeJSON(w, http.StatusOK, s.risk.GetRiskSummary())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
