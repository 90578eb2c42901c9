package main

import (
	"flag"
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"battgauged/internal/alertpin"
	"battgauged/internal/max17048"
	"battgauged/internal/server"
)

func main() {
	var (
		port        = flag.Int("port", 3000, "HTTP listen port")
		busName     = flag.String("bus", "", "I2C bus name, empty for the first available")
		gpioChip    = flag.String("gpiochip", "gpiochip0", "GPIO chip holding the ALRT line")
		alertPin    = flag.Int("alert-pin", -1, "GPIO offset of the ALRT line, -1 to disable")
		lowSOC      = flag.Int("low-soc", 15, "low-SOC alert threshold in percent (1-32)")
		undervoltMV = flag.Int("undervolt-mv", 3300, "undervoltage alert threshold in mV, 0 to skip")
		overvoltMV  = flag.Int("overvolt-mv", 4300, "overvoltage alert threshold in mV, 0 to skip")
	)
	flag.Parse()

	if err := validateThresholds(*lowSOC, *undervoltMV, *overvoltMV); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	log.Println("Starting battgauged...")

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	bus, err := i2creg.Open(*busName)
	if err != nil {
		log.Fatalf("failed to open I2C: %v", err)
	}
	defer bus.Close()

	// The HTTP handlers and the ALRT callback run concurrently; the driver
	// itself holds no lock, so every caller goes through the serializing
	// wrapper.
	gauge := newSyncGauge(max17048.New(bus))
	if !gauge.IsPresent() {
		log.Fatalf("MAX17048 not found at 0x%X", max17048.Addr)
	}

	if err := gauge.SetLowSOCAlert(uint8(*lowSOC)); err != nil {
		log.Printf("Failed to set low-SOC alert: %v", err)
	}
	if *undervoltMV > 0 {
		if err := gauge.SetUndervoltageAlert(uint16(*undervoltMV)); err != nil {
			log.Printf("Failed to set undervoltage alert: %v", err)
		}
	}
	if *overvoltMV > 0 {
		if err := gauge.SetOvervoltageAlert(uint16(*overvoltMV)); err != nil {
			log.Printf("Failed to set overvoltage alert: %v", err)
		}
	}

	// Drop anything latched before we were running, so the ALRT line starts
	// released.
	if err := gauge.ClearAlerts(); err != nil {
		log.Printf("Failed to clear stale alerts: %v", err)
	}

	if *alertPin >= 0 {
		mon, err := alertpin.Watch(*gpioChip, *alertPin, func() {
			flags, err := gauge.Alerts()
			if err != nil {
				log.Printf("Failed to read alerts: %v", err)
				return
			}
			log.Printf("Battery alert: %v", flags)
		})
		if err != nil {
			log.Printf("Failed to watch ALRT pin: %v", err)
		} else {
			defer mon.Close()
		}
	}

	if ver, err := gauge.Version(); err == nil {
		log.Printf("Hardware Initialized: MAX17048 (Addr: 0x%X, Version: 0x%04X)", max17048.Addr, ver)
	}

	if err := server.Run(*port, gauge); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// validateThresholds rejects flag values before they are narrowed to the
// driver's uint8/uint16 arguments, where out-of-range ints would silently
// wrap. Voltage thresholds are capped at the 5.1V the 20mV/LSB field can
// encode; 0 means the alert is not configured.
func validateThresholds(lowSOC, undervoltMV, overvoltMV int) error {
	if lowSOC < 1 || lowSOC > 32 {
		return fmt.Errorf("-low-soc %d out of range 1-32", lowSOC)
	}
	if undervoltMV < 0 || undervoltMV > 5100 {
		return fmt.Errorf("-undervolt-mv %d out of range 0-5100", undervoltMV)
	}
	if overvoltMV < 0 || overvoltMV > 5100 {
		return fmt.Errorf("-overvolt-mv %d out of range 0-5100", overvoltMV)
	}
	return nil
}
