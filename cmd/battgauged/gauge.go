package main

import (
	"sync"

	"battgauged/internal/max17048"
)

// syncGauge serializes access to the fuel gauge. The driver holds no lock of
// its own and each masked read-modify-write needs exclusive access to its
// register, while the HTTP handlers and the ALRT pin callback all run on
// their own goroutines.
type syncGauge struct {
	mu  sync.Mutex
	dev *max17048.Dev
}

func newSyncGauge(dev *max17048.Dev) *syncGauge {
	return &syncGauge{dev: dev}
}

func (g *syncGauge) IsPresent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.IsPresent()
}

func (g *syncGauge) Status() (float64, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Status()
}

func (g *syncGauge) Version() (uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Version()
}

func (g *syncGauge) Alerts() (max17048.Alert, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.Alerts()
}

func (g *syncGauge) ClearAlerts() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.ClearAlerts()
}

func (g *syncGauge) SetLowSOCAlert(percent uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetLowSOCAlert(percent)
}

func (g *syncGauge) SetUndervoltageAlert(mv uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetUndervoltageAlert(mv)
}

func (g *syncGauge) SetOvervoltageAlert(mv uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetOvervoltageAlert(mv)
}

func (g *syncGauge) SetSOCChangeAlert(enable bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dev.SetSOCChangeAlert(enable)
}
