// Package sensor polls I2C sensors and records their values as hourly
// readings.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"celeri/internal/config"
	appLog "celeri/internal/log"
)

// ErrUnsupported is returned on platforms without I2C access.
var ErrUnsupported = errors.New("sensor: i2c unavailable on this platform")

// Reader abstracts how a raw register value is obtained, so the poller
// can run without hardware in tests.
type Reader interface {
	ReadRaw(ctx context.Context, s config.SensorConfig) (uint16, error)
}

// Recorder persists one reading.
type Recorder interface {
	UpsertReading(ctx context.Context, sensor string, at time.Time, value float64) error
}

var hostOnce = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// I2CReader reads a big-endian 16-bit register over periph.io.
type I2CReader struct{}

// ReadRaw implements Reader. The register holds the high byte and the
// next register the low byte.
func (I2CReader) ReadRaw(_ context.Context, s config.SensorConfig) (uint16, error) {
	if runtime.GOOS != "linux" {
		return 0, ErrUnsupported
	}
	if err := hostOnce(); err != nil {
		return 0, err
	}

	bus, err := i2creg.Open(s.Bus)
	if err != nil {
		return 0, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: s.Addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(s.Register)
	if err != nil {
		return 0, err
	}
	low, err := readReg(s.Register + 1)
	if err != nil {
		return 0, err
	}
	return uint16(high)<<8 | uint16(low), nil
}

// Poller reads every configured sensor and records the scaled value for
// the current hour. A later poll in the same hour overwrites the earlier.
type Poller struct {
	sensors []config.SensorConfig
	reader  Reader
	rec     Recorder
	clock   clockwork.Clock
}

func NewPoller(sensors []config.SensorConfig, reader Reader, rec Recorder, clock clockwork.Clock) *Poller {
	if reader == nil {
		reader = I2CReader{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{sensors: sensors, reader: reader, rec: rec, clock: clock}
}

// Poll reads all sensors once. A failing sensor is logged and skipped;
// the joined errors are returned once every sensor was tried.
func (p *Poller) Poll(ctx context.Context) error {
	now := p.clock.Now()
	var errs []error
	for _, s := range p.sensors {
		raw, err := p.reader.ReadRaw(ctx, s)
		if err != nil {
			appLog.Warn("sensor read failed", "sensor", s.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		value := float64(raw)*s.Scale + s.Offset
		if err := p.rec.UpsertReading(ctx, s.Name, now, value); err != nil {
			errs = append(errs, err)
			continue
		}
		appLog.Debug("sensor recorded", "sensor", s.Name, "raw", raw, "value", value)
	}
	return errors.Join(errs...)
}
