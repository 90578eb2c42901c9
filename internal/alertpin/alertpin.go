// Package alertpin watches the fuel gauge's ALRT interrupt line.
//
// The ALRT output is open drain and active low: the gauge pulls it down when
// an alert latches and releases it once the alert is acknowledged, so a
// falling edge means there are flags to collect.
package alertpin

import (
	"fmt"
	"io"

	"github.com/warthog618/gpiod"
)

// Monitor owns a requested GPIO line and fires a callback on each falling
// edge. It keeps the chip handle it requested the line from and releases
// both on Close.
type Monitor struct {
	line io.Closer
	chip io.Closer
	fn   func()
}

// Watch requests pin on the named GPIO chip and invokes fn every time the
// gauge asserts the alert line. The callback runs on the gpiod event
// goroutine and should hand work off quickly.
func Watch(chip string, pin int, fn func()) (*Monitor, error) {
	m := &Monitor{fn: fn}

	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("battgauged"))
	if err != nil {
		return nil, fmt.Errorf("failed to create GPIO chip: %w", err)
	}

	line, err := c.RequestLine(pin, gpiod.WithEventHandler(m.onEvent), gpiod.WithFallingEdge)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request ALRT GPIO line: %w", err)
	}
	m.line = line
	m.chip = c
	return m, nil
}

func (m *Monitor) onEvent(evt gpiod.LineEvent) {
	if evt.Type != gpiod.LineEventFallingEdge {
		return
	}
	m.fn()
}

// Close releases the ALRT line, then the chip it was requested from.
func (m *Monitor) Close() error {
	if err := m.line.Close(); err != nil {
		m.chip.Close()
		return fmt.Errorf("failed to close ALRT line: %w", err)
	}
	if err := m.chip.Close(); err != nil {
		return fmt.Errorf("failed to close GPIO chip: %w", err)
	}
	return nil
}
