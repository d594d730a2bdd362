package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/flybot/flybot/internal/config"
	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/hw/esc"
	"github.com/flybot/flybot/internal/hw/gpio"
	"github.com/flybot/flybot/internal/hw/imu"
	"github.com/flybot/flybot/internal/hw/led"
	"github.com/flybot/flybot/internal/hw/radio"
	"github.com/flybot/flybot/internal/logic/control"
	"github.com/flybot/flybot/internal/params"
	"github.com/flybot/flybot/internal/telemetry"
	"github.com/flybot/flybot/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level 0-4 (-1 = use config)")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyDebugOverride(cfg, *debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, webPort.port()); err != nil {
		log.Fatalf("flybot: %v", err)
	}
}

// run wires every component, drives the control loop until ctx is done and
// then brings the motors to idle.
func run(ctx context.Context, cfg *config.Config, port int) error {
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver: %w", err))
		}
	}()

	debug.Step(2, "Initializing IMU")
	sensor, err := imu.Open(imu.Config{Type: cfg.IMU.Type, SPIPath: cfg.IMU.SPIPath, CSPin: cfg.IMU.CSPin})
	if err != nil {
		return fmt.Errorf("init IMU: %w", err)
	}
	defer sensor.Close()
	debug.PrintStruct("IMU config", cfg.IMU)

	store := params.NewStore()
	runCtx, stopRadio := context.WithCancel(ctx)
	defer stopRadio()

	debug.Step(3, "Initializing radio")
	commands, closeRadio, err := openRadio(runCtx, cfg.Radio, store)
	if err != nil {
		return fmt.Errorf("init radio: %w", err)
	}
	defer closeRadio()

	debug.Step(4, "Initializing ESCs")
	output, closeOutput, err := openESCOutput(cfg.ESC, gpioDriver)
	if err != nil {
		return fmt.Errorf("init ESC output: %w", err)
	}
	defer closeOutput()
	motors, err := esc.New(output, esc.Config{
		Pins:          cfg.ESC.Pins,
		FrequencyHz:   cfg.ESC.FrequencyHz,
		MinPulseUs:    cfg.ESC.MinPulseUs,
		MaxPulseUs:    cfg.ESC.MaxPulseUs,
		Bidirectional: cfg.ESC.Bidirectional,
	})
	if err != nil {
		return fmt.Errorf("init ESC: %w", err)
	}
	defer func() {
		if err := motors.Stop(); err != nil {
			debug.Error(fmt.Errorf("stopping motors: %w", err))
		}
	}()
	debug.PrintStruct("ESC config", cfg.ESC)

	debug.Step(5, "Building control loop")
	state := &telemetry.Snapshot{}
	loop := control.New(control.Config{
		RateHz:           cfg.Loop.RateHz,
		CalibrationTicks: cfg.Loop.CalibrationTicks,
	}, store, sensor, commands, motors, state)

	// Every parameter is registered by now, so persisted values land.
	if err := store.Load(cfg.Params.Path); err != nil {
		debug.Error(fmt.Errorf("load params: %w", err))
	}
	flush := func() error { return store.Save(cfg.Params.Path) }

	if cfg.LED.Pin > 0 {
		statusLED := led.New(gpioDriver, cfg.LED.Pin)
		loop.SetIndicator(statusLED)
		defer statusLED.Off()
	}

	debug.Section("Running")
	debug.Info("control loop at %d Hz, calibrating for %d cycles", cfg.Loop.RateHz, cfg.Loop.CalibrationTicks)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runScheduler(runCtx, loop, cfg.PollInterval())
	}()
	go func() {
		defer wg.Done()
		flushParams(runCtx, store, flush, cfg.FlushInterval())
	}()

	var serveErr error
	if port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, store, state, flush)
		serveErr = srv.Run(runCtx)
	} else {
		<-runCtx.Done()
	}

	stopRadio()
	wg.Wait()
	debug.Section("Shutdown")
	debug.Info("%d control cycles run", loop.Cycles())
	if store.Dirty() {
		if err := flush(); err != nil {
			debug.Error(fmt.Errorf("final params flush: %w", err))
		}
	}
	return serveErr
}

// openESCOutput returns the PWM output selected by cfg and a function that
// releases it. With mock GPIO the mock driver stands in for every output.
func openESCOutput(cfg config.ESCConfig, g gpio.Driver) (esc.Output, func(), error) {
	if _, mock := g.(*gpio.MockDriver); mock || cfg.Output == "" || cfg.Output == "gpio" {
		return g, func() {}, nil
	}
	switch cfg.Output {
	case "pca9685":
		pca, err := esc.NewPCA9685(cfg.I2CBus, cfg.I2CAddr, cfg.FrequencyHz)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := pca.Close(); err != nil {
				debug.Error(err)
			}
		}
		return pca, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ESC output: %s", cfg.Output)
	}
}

// openRadio returns the stick-command source for cfg and a function that
// releases it.
func openRadio(ctx context.Context, cfg config.RadioConfig, store *params.Store) (radio.Source, func(), error) {
	switch cfg.Type {
	case "", "none":
		return radio.None{}, func() {}, nil
	case "sbus":
		// The serial line (100000 baud, 8E2, inverted) is configured by the
		// system before start-up.
		f, err := os.Open(cfg.Device)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.Device, err)
		}
		sbus := radio.NewSBUS(store)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := sbus.Run(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error(err)
			}
		}()
		closeFn := func() {
			f.Close()
			<-done
			frames, dropped := sbus.Stats()
			debug.Info("sbus: %d frames, %d dropped", frames, dropped)
		}
		return sbus, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported radio type: %s", cfg.Type)
	}
}

// runScheduler offers the loop a tick every interval until ctx is done.
// The loop itself decides whether a cycle is due.
func runScheduler(ctx context.Context, loop *control.Loop, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			loop.Tick(time.Now())
		}
	}
}

// flushParams persists the store every interval when it has changed.
func flushParams(ctx context.Context, store *params.Store, flush func() error, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !store.Dirty() {
				continue
			}
			if err := flush(); err != nil {
				debug.Error(fmt.Errorf("params flush: %w", err))
			}
		}
	}
}

// applyDebugOverride replaces the configured debug level when level >= 0.
func applyDebugOverride(cfg *config.Config, level int) error {
	if level < 0 {
		return nil
	}
	if level > debug.LevelTrace {
		return fmt.Errorf("debug level must be between 0 and %d, got %d", debug.LevelTrace, level)
	}
	cfg.Defaults.DebugLevel = level
	return nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
