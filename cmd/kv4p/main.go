// Command kv4p controls a kv4p HT radio over Bluetooth LE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/kv4p-ht/internal/ble"
	"github.com/chaz8081/kv4p-ht/internal/config"
	"github.com/chaz8081/kv4p-ht/internal/logging"
	"github.com/chaz8081/kv4p-ht/internal/radio"
	"github.com/chaz8081/kv4p-ht/internal/settings"
)

const usage = `usage: kv4p [-config path] [-v] <command> [flags]

commands:
  init       write a default config file
  scan       list nearby kv4p radios
  firmware   print the radio's firmware version
  tune       set frequency, tone, squelch and bandwidth
  filters    set the audio filters
  stop       stop the current radio activity
  ptt        key the transmitter with the configured hotkey
  monitor    print everything the radio sends until Ctrl+C
`

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"init":     runInit,
	"scan":     runScan,
	"firmware": runFirmware,
	"tune":     runTune,
	"filters":  runFilters,
	"stop":     runStop,
	"ptt":      runPTT,
	"monitor":  runMonitor,
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/kv4p/config.yaml)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "kv4p: unknown command %q\n\n", name)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logs := logging.NewManager()
	if err := logs.Configure(config.ParseLogLevel(cfg.LogLevel), cfg.LogFile); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg}
	err = run(ctx, a, args)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logs.Close()
		log.Fatalf("%s: %v", name, err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

// app holds what a command opens lazily, so scan never touches the
// settings database and init never touches Bluetooth.
type app struct {
	cfg *config.Config

	adapter *ble.TinyGoAdapter
	ctrl    *radio.Controller
	store   *settings.SQLiteStore
}

func (a *app) bleAdapter() *ble.TinyGoAdapter {
	if a.adapter == nil {
		a.adapter = ble.NewTinyGoAdapter(a.cfg.BLE.AdapterID)
	}
	return a.adapter
}

// controller returns a connected controller.
func (a *app) controller(ctx context.Context) (*radio.Controller, error) {
	if a.ctrl == nil {
		session := ble.NewSession(a.bleAdapter(), sessionOptions(a.cfg.BLE))
		a.ctrl = radio.New(session, controllerOptions(a.cfg.Controller))
	}
	log.Printf("Connecting to %s...", describeTarget(a.cfg.BLE))
	st, err := a.ctrl.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if st != ble.StateConnected {
		return nil, fmt.Errorf("connect: link is %s", st)
	}
	log.Println("Connected")
	return a.ctrl, nil
}

func (a *app) settings(ctx context.Context) (*settings.SQLiteStore, error) {
	if a.store == nil {
		store, err := settings.OpenSQLite(ctx, a.cfg.Settings.Path)
		if err != nil {
			return nil, fmt.Errorf("opening settings: %w", err)
		}
		a.store = store
	}
	return a.store, nil
}

func (a *app) close() error {
	var errs error
	if a.ctrl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.BLE.ConnectTimeout)
		errs = errors.Join(errs, a.ctrl.Close(ctx))
		cancel()
	}
	if a.store != nil {
		errs = errors.Join(errs, a.store.Close())
	}
	return errs
}

func sessionOptions(c config.BLEConfig) ble.SessionOptions {
	return ble.SessionOptions{
		DeviceName:       c.DeviceName,
		DeviceAddress:    c.DeviceAddress,
		ScanTimeout:      c.ScanTimeout,
		ConnectTimeout:   c.ConnectTimeout,
		DiscoverTimeout:  c.DiscoverTimeout,
		SubscribeTimeout: c.SubscribeTimeout,
		WriteTimeout:     c.WriteTimeout,
		MaxChunkSize:     c.MaxChunkSize,
		InterChunkDelay:  c.InterChunkDelay,
	}
}

func controllerOptions(c config.ControllerConfig) radio.Options {
	return radio.Options{
		QueueSize:      c.QueueSize,
		CommandTimeout: c.CommandTimeout,
		EventBuffer:    c.EventBuffer,
	}
}

func describeTarget(c config.BLEConfig) string {
	switch {
	case c.DeviceAddress != "":
		return c.DeviceAddress
	case c.DeviceName != "":
		return fmt.Sprintf("%q", c.DeviceName)
	default:
		return "the first kv4p radio"
	}
}
