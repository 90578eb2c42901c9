package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"battgauged/internal/max17048"
)

type Gauge interface {
	Status() (voltage float64, soc float64, err error)
	Alerts() (max17048.Alert, error)
	SetLowSOCAlert(percent uint8) error
	SetUndervoltageAlert(mv uint16) error
	SetOvervoltageAlert(mv uint16) error
}

type BatteryResponse struct {
	Level   int     `json:"sensor.battery_level"`
	Voltage float64 `json:"sensor.battery_voltage"`
	State   string  `json:"sensor.battery_state"`
}

type AlertsResponse struct {
	Reset        bool `json:"reset"`
	Overvoltage  bool `json:"overvoltage"`
	Undervoltage bool `json:"undervoltage"`
	VoltageReset bool `json:"voltage_reset"`
	SOCLow       bool `json:"soc_low"`
	SOCChange    bool `json:"soc_change"`
}

// AlertConfigRequest carries new alert thresholds; absent fields are left
// unchanged on the device.
type AlertConfigRequest struct {
	LowSOC         *uint8  `json:"low_soc"`
	UndervoltageMV *uint16 `json:"undervoltage_mv"`
	OvervoltageMV  *uint16 `json:"overvoltage_mv"`
}

type Server struct {
	gauge Gauge
}

func Run(port int, g Gauge) error {
	s := &Server{gauge: g}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.statusHandler)
	mux.HandleFunc("GET /alerts", s.alertsHandler)
	mux.HandleFunc("POST /alerts/config", s.configHandler)

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("Listening on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := BatteryResponse{State: "Unknown"}

	voltage, soc, err := s.gauge.Status()
	if err != nil {
		log.Printf("Error reading MAX17048: %v", err)
	} else {
		resp.Voltage = voltage
		resp.Level = int(soc)
		// The gauge can report slightly over 100% on a full cell.
		if resp.Level >= 100 {
			resp.Level = 100
			resp.State = "Full"
		} else {
			resp.State = "Discharging"
		}
	}

	writeJSON(w, resp)
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	flags, err := s.gauge.Alerts()
	if err != nil {
		log.Printf("Error reading alerts: %v", err)
		http.Error(w, "Failed to read alerts", http.StatusBadGateway)
		return
	}

	writeJSON(w, AlertsResponse{
		Reset:        flags&max17048.AlertReset != 0,
		Overvoltage:  flags&max17048.AlertOvervoltage != 0,
		Undervoltage: flags&max17048.AlertUndervoltage != 0,
		VoltageReset: flags&max17048.AlertVoltageReset != 0,
		SOCLow:       flags&max17048.AlertSOCLow != 0,
		SOCChange:    flags&max17048.AlertSOCChange != 0,
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	var req AlertConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.LowSOC != nil {
		if !s.applyThreshold(w, "low-SOC", s.gauge.SetLowSOCAlert(*req.LowSOC)) {
			return
		}
	}
	if req.UndervoltageMV != nil {
		if !s.applyThreshold(w, "undervoltage", s.gauge.SetUndervoltageAlert(*req.UndervoltageMV)) {
			return
		}
	}
	if req.OvervoltageMV != nil {
		if !s.applyThreshold(w, "overvoltage", s.gauge.SetOvervoltageAlert(*req.OvervoltageMV)) {
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyThreshold(w http.ResponseWriter, name string, err error) bool {
	if err == nil {
		return true
	}
	log.Printf("Error setting %s alert: %v", name, err)
	if errors.Is(err, max17048.ErrThresholdRange) {
		http.Error(w, fmt.Sprintf("%s threshold out of range", name), http.StatusBadRequest)
	} else {
		http.Error(w, fmt.Sprintf("Failed to set %s alert", name), http.StatusBadGateway)
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
