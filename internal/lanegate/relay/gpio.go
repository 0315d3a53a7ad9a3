package relay

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOActuator drives relay channels wired to BCM GPIO pins.  Most relay
// boards are active-low: the coil energizes when the pin is pulled low.
type GPIOActuator struct {
	pins      []gpio.PinIO
	activeLow bool
}

// NewGPIOActuator initializes the host drivers, resolves every pin and
// forces all channels off.  pins[0] is channel 1.
func NewGPIOActuator(pins []int, activeLow bool) (*GPIOActuator, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("%w: no relay pins configured", ErrActuatorInit)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %w", ErrActuatorInit, err)
	}

	a := &GPIOActuator{activeLow: activeLow}
	for i, n := range pins {
		name := fmt.Sprintf("GPIO%d", n)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: channel %d: pin %s not found", ErrActuatorInit, i+1, name)
		}
		a.pins = append(a.pins, p)
	}

	if err := a.AllOff(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActuatorInit, err)
	}
	return a, nil
}

func (a *GPIOActuator) Channels() int { return len(a.pins) }

func (a *GPIOActuator) Open(channels []int) error {
	return a.set(channels, true)
}

func (a *GPIOActuator) Close(channels []int) error {
	return a.set(channels, false)
}

// AllOff deasserts every channel and reports every pin that failed.
func (a *GPIOActuator) AllOff() error {
	var errs []error
	for i, p := range a.pins {
		if err := p.Out(a.level(false)); err != nil {
			errs = append(errs, fmt.Errorf("channel %d (%s): %w", i+1, p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (a *GPIOActuator) set(channels []int, on bool) error {
	if err := checkChannels(len(a.pins), channels); err != nil {
		return err
	}
	for _, ch := range channels {
		p := a.pins[ch-1]
		if err := p.Out(a.level(on)); err != nil {
			return fmt.Errorf("channel %d (%s): %w", ch, p.Name(), err)
		}
	}
	return nil
}

func (a *GPIOActuator) level(on bool) gpio.Level {
	// on XOR activeLow
	return gpio.Level(on != a.activeLow)
}
