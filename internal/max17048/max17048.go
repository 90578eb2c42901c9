// Package max17048 drives the MAX17048 single-cell lithium-ion fuel gauge.
//
// The chip sits at a fixed I2C address and exposes battery voltage, state of
// charge, charge rate and a set of latched alert conditions through 16-bit
// registers, big-endian on the wire. Several logically distinct settings
// share single registers, so every partial update goes through a masked
// read-modify-write; the driver holds no state of its own and assumes the
// caller serializes access to the bus.
package max17048

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
)

// Addr is the fixed 7-bit I2C address of the MAX17048.
const Addr = 0x36

// Register map. All registers are 16 bits wide.
const (
	regVCell   = 0x02 // R/-: ADC measurement of VCELL, 78.125uV per LSB
	regSOC     = 0x04 // R/-: state of charge, 1%/256
	regMode    = 0x06 // -/W: quick-start, enable sleep
	regVersion = 0x08 // R/-: production version
	regHibrt   = 0x0A // R/W: hibernation thresholds
	regConfig  = 0x0C // R/W: compensation, sleep, alert enables
	regVAlrt   = 0x14 // R/W: over/undervoltage alert thresholds
	regCRate   = 0x16 // R/-: charge/discharge rate, 0.208%/hr per LSB
	regVReset  = 0x18 // R/W: reset voltage, chip ID
	regStatus  = 0x1A // R/W: latched alert flags
	regTable   = 0x40 // -/W: battery model
	regCmd     = 0xFE // R/W: power-on reset
)

// Field masks and positions.
const (
	versionMask = 0xFFF0
	partNumber  = 0x0010

	batLowPos  = 0
	batLowMask = 0x001F << batLowPos
	batLowMin  = 1
	batLowMax  = 32

	alrtBitPos  = 5
	alrtBitMask = 0x0001 << alrtBitPos

	alscBitPos  = 6
	alscBitMask = 0x0001 << alscBitPos

	valrtMaxPos  = 0
	valrtMaxMask = 0x00FF << valrtMaxPos
	valrtMinPos  = 8
	valrtMinMask = 0x00FF << valrtMinPos
	valrtStepMV  = 20

	vresetPos    = 9
	vresetMask   = 0x007F << vresetPos
	vresetStepMV = 40

	envrBitPos  = 14
	envrBitMask = 0x0001 << envrBitPos

	alertStatusPos  = 8
	alertStatusMask = 0x003F << alertStatusPos

	cmdPOR         = 0x5400
	modeQuickStart = 0x4000

	cratePercentPerHour = 0.208
)

// ErrThresholdRange reports an alert threshold outside its legal domain.
// The device is not touched when this is returned.
var ErrThresholdRange = errors.New("max17048: threshold out of range")

// Alert is a bitmask of latched alert conditions. Flags stay asserted on the
// device until acknowledged through ClearAlerts or Alerts.
type Alert uint8

const (
	AlertReset        Alert = 0x01 // device has reset since last clear
	AlertOvervoltage  Alert = 0x02 // VCELL above the overvoltage threshold
	AlertUndervoltage Alert = 0x04 // VCELL below the undervoltage threshold
	AlertVoltageReset Alert = 0x08 // VCELL dipped below the reset voltage
	AlertSOCLow       Alert = 0x10 // SOC fell below the low-SOC threshold
	AlertSOCChange    Alert = 0x20 // SOC moved by at least 1%
)

var alertNames = []struct {
	bit  Alert
	name string
}{
	{AlertReset, "reset"},
	{AlertOvervoltage, "overvoltage"},
	{AlertUndervoltage, "undervoltage"},
	{AlertVoltageReset, "voltage-reset"},
	{AlertSOCLow, "soc-low"},
	{AlertSOCChange, "soc-change"},
}

func (a Alert) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for _, f := range alertNames {
		if a&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Dev is a handle to a MAX17048 on an I2C bus.
type Dev struct {
	dev *i2c.Dev
}

// New returns a driver for the gauge on bus. No bus traffic happens until
// the first operation; use IsPresent to probe for the chip.
func New(bus i2c.Bus) *Dev {
	return &Dev{dev: &i2c.Dev{Addr: Addr, Bus: bus}}
}

func (d *Dev) readReg(reg byte) (uint16, error) {
	var buf [2]byte
	if err := d.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("max17048: read reg 0x%02X: %w", reg, err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Dev) writeReg(reg byte, val uint16) error {
	if err := d.dev.Tx([]byte{reg, byte(val >> 8), byte(val)}, nil); err != nil {
		return fmt.Errorf("max17048: write reg 0x%02X: %w", reg, err)
	}
	return nil
}

// modifyReg updates the masked bits of reg and preserves the rest. The write
// is never issued if the read fails, so the register keeps its pre-call
// value on any failure.
func (d *Dev) modifyReg(reg byte, val, mask uint16) error {
	cur, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, (cur&^mask)|(val&mask))
}

// IsPresent reads the version register and checks the part-number bits.
// Any transport failure reports the chip as absent.
func (d *Dev) IsPresent() bool {
	v, err := d.readReg(regVersion)
	return err == nil && v&versionMask == partNumber
}

// Voltage returns the measured cell voltage in millivolts.
func (d *Dev) Voltage() (uint16, error) {
	v, err := d.readReg(regVCell)
	if err != nil {
		return 0, err
	}
	// 78.125uV per LSB is 5/64 mV.
	return uint16(uint32(v) * 5 >> 6), nil
}

// StateOfCharge returns the battery state of charge in whole percent. The
// low byte of the SOC register holds sub-percent resolution and is discarded
// here; Status exposes it.
func (d *Dev) StateOfCharge() (uint8, error) {
	v, err := d.readReg(regSOC)
	if err != nil {
		return 0, err
	}
	return uint8(v >> 8), nil
}

// Status returns the cell voltage in volts and the state of charge in
// percent with sub-percent resolution.
func (d *Dev) Status() (voltage float64, soc float64, err error) {
	rawV, err := d.readReg(regVCell)
	if err != nil {
		return 0, 0, err
	}
	rawSOC, err := d.readReg(regSOC)
	if err != nil {
		return 0, 0, err
	}
	return float64(rawV) * 78.125 / 1e6, float64(rawSOC) / 256.0, nil
}

// ChargeRate returns the approximate charge or discharge rate of the cell in
// percent per hour, negative while discharging.
func (d *Dev) ChargeRate() (float64, error) {
	v, err := d.readReg(regCRate)
	if err != nil {
		return 0, err
	}
	return float64(int16(v)) * cratePercentPerHour, nil
}

// Version returns the raw production version register.
func (d *Dev) Version() (uint16, error) {
	return d.readReg(regVersion)
}

// SetLowSOCAlert sets the state of charge below which the device raises the
// low-SOC alert. Valid range is 1 to 32 percent. The hardware field counts
// down: 1% encodes as 31, 32% as 0.
func (d *Dev) SetLowSOCAlert(percent uint8) error {
	if percent < batLowMin || percent > batLowMax {
		return fmt.Errorf("max17048: low-SOC threshold %d%%: %w", percent, ErrThresholdRange)
	}
	data := uint16(batLowMax-(percent%batLowMax)) & batLowMask
	return d.modifyReg(regConfig, data, batLowMask)
}

// SetUndervoltageAlert sets the voltage below which the device raises the
// undervoltage alert, in millivolts with 20mV resolution. The overvoltage
// threshold in the same register is left untouched.
func (d *Dev) SetUndervoltageAlert(mv uint16) error {
	data := (mv / valrtStepMV << valrtMinPos) & valrtMinMask
	return d.modifyReg(regVAlrt, data, valrtMinMask)
}

// SetOvervoltageAlert sets the voltage above which the device raises the
// overvoltage alert, in millivolts with 20mV resolution. The undervoltage
// threshold in the same register is left untouched.
func (d *Dev) SetOvervoltageAlert(mv uint16) error {
	data := (mv / valrtStepMV << valrtMaxPos) & valrtMaxMask
	return d.modifyReg(regVAlrt, data, valrtMaxMask)
}

// SetResetVoltage sets the voltage below which the device considers the cell
// removed or freshly inserted, in millivolts with 40mV resolution. The ID
// bits sharing the register are preserved.
func (d *Dev) SetResetVoltage(mv uint16) error {
	data := (mv / vresetStepMV << vresetPos) & vresetMask
	return d.modifyReg(regVReset, data, vresetMask)
}

// SetSOCChangeAlert enables or disables the alert raised whenever the state
// of charge moves by at least 1%.
func (d *Dev) SetSOCChangeAlert(enable bool) error {
	var data uint16
	if enable {
		data = alscBitMask
	}
	return d.modifyReg(regConfig, data, alscBitMask)
}

// SetVoltageResetAlert enables or disables the alert raised when the cell
// voltage dips below the reset voltage, typically on battery swap.
func (d *Dev) SetVoltageResetAlert(enable bool) error {
	var data uint16
	if enable {
		data = envrBitMask
	}
	return d.modifyReg(regStatus, data, envrBitMask)
}

// ClearAlerts acknowledges all latched alerts: first the alert flags in the
// status register, then the alert-pending bit in the config register. The
// config write is skipped when the status write fails.
func (d *Dev) ClearAlerts() error {
	if err := d.modifyReg(regStatus, 0, alertStatusMask); err != nil {
		return err
	}
	return d.modifyReg(regConfig, 0, alrtBitMask)
}

// Alerts returns the latched alert flags and acknowledges them on the
// device. The returned flags reflect the state before the clear and are only
// meaningful when err is nil; a failed status read aborts before anything is
// written.
func (d *Dev) Alerts() (Alert, error) {
	v, err := d.readReg(regStatus)
	if err != nil {
		return 0, err
	}
	flags := Alert(v & alertStatusMask >> alertStatusPos)
	if err := d.ClearAlerts(); err != nil {
		return 0, err
	}
	return flags, nil
}

// Reset issues the power-on reset command. All configuration is lost and the
// device restarts as if power cycled.
func (d *Dev) Reset() error {
	return d.writeReg(regCmd, cmdPOR)
}

// QuickStart restarts the SOC estimation from the current cell voltage,
// discarding the coulomb-counting history.
func (d *Dev) QuickStart() error {
	return d.writeReg(regMode, modeQuickStart)
}
