package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/kv4p-ht/internal/audio"
	"github.com/chaz8081/kv4p-ht/internal/ble"
	"github.com/chaz8081/kv4p-ht/internal/ble/protocol"
	"github.com/chaz8081/kv4p-ht/internal/config"
	"github.com/chaz8081/kv4p-ht/internal/hotkey"
	"github.com/chaz8081/kv4p-ht/internal/radio"
	"github.com/chaz8081/kv4p-ht/internal/settings"
)

func runInit(_ context.Context, _ *app, _ []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		log.Printf("Config already exists at %s", config.DefaultConfigPath())
		return nil
	}
	log.Printf("Wrote default config to %s", path)
	return nil
}

func runScan(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	timeout := fs.Duration("timeout", a.cfg.BLE.ScanTimeout, "how long to scan")
	_ = fs.Parse(args)

	log.Printf("Scanning for %s...", timeout.String())
	devices, err := ble.ScanForDevices(ctx, a.bleAdapter(), *timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		log.Println("No radios found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, d.Address, d.RSSI)
	}
	return tw.Flush()
}

func runFirmware(ctx context.Context, a *app, args []string) error {
	band := protocol.BandVHF
	if len(args) > 0 {
		b, err := protocol.ParseBand(args[0])
		if err != nil {
			return err
		}
		band = b
	}

	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	version, err := ctrl.FirmwareVersion(ctx, band)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(version))
	return nil
}

// tuneFlags are the tune command's overrides of the stored settings.
type tuneFlags struct {
	fs        *flag.FlagSet
	rx        *float64
	tx        *float64
	split     *bool
	tone      *int
	toneHz    *float64
	squelch   *int
	bandwidth *string
	step      *int
}

func newTuneFlags() *tuneFlags {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	return &tuneFlags{
		fs:        fs,
		rx:        fs.Float64("rx", 0, "receive frequency in MHz"),
		tx:        fs.Float64("tx", 0, "transmit frequency in MHz (with -split)"),
		split:     fs.Bool("split", false, "transmit on -tx instead of the receive frequency"),
		tone:      fs.Int("tone", 0, "CTCSS tone index, 0 for none"),
		toneHz:    fs.Float64("tone-hz", 0, "CTCSS tone in Hz, instead of -tone"),
		squelch:   fs.Int("squelch", 0, "squelch level 1-8"),
		bandwidth: fs.String("bw", "", "bandwidth: narrow or wide"),
		step:      fs.Int("step", 0, "move the receive frequency by this many 1 kHz steps"),
	}
}

// apply overlays the flags that were set on r.
func (f *tuneFlags) apply(r settings.Radio) (settings.Radio, error) {
	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "rx":
			r.RxFreq = *f.rx
		case "tx":
			r.TxFreq = *f.tx
		case "split":
			r.Split = *f.split
		case "tone":
			r.Tone = *f.tone
		case "tone-hz":
			idx, ok := protocol.ToneIndex(*f.toneHz)
			if !ok {
				err = fmt.Errorf("no CTCSS tone at %.1f Hz", *f.toneHz)
				return
			}
			r.Tone = idx
		case "squelch":
			r.Squelch = *f.squelch
		case "bw":
			r.Bandwidth, err = protocol.ParseBandwidth(*f.bandwidth)
		}
	})
	if err != nil {
		return r, err
	}
	if *f.step != 0 {
		r.RxFreq = settings.Step(r.RxFreq, *f.step)
	}
	return r, nil
}

func runTune(ctx context.Context, a *app, args []string) error {
	flags := newTuneFlags()
	if err := flags.fs.Parse(args); err != nil {
		return err
	}

	store, err := a.settings(ctx)
	if err != nil {
		return err
	}
	current, err := settings.Load(ctx, store)
	if err != nil {
		return err
	}
	next, err := flags.apply(current)
	if err != nil {
		return err
	}
	// Validate before touching the radio or the store.
	cmd := next.TuneCommand()
	if _, err := protocol.Encode(cmd); err != nil {
		return err
	}

	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	if err := ctrl.TuneTo(ctx, cmd); err != nil {
		return err
	}
	if err := settings.Save(ctx, store, next); err != nil {
		return err
	}
	log.Printf("Tuned: RX %.4f MHz, TX %.4f MHz, tone %d, squelch %d, %s",
		cmd.RxFreq, cmd.TxFreq, cmd.Tone, cmd.Squelch, cmd.Bandwidth)
	return nil
}

func runFilters(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("filters", flag.ContinueOnError)
	pre := fs.Bool("deemphasis", false, "pre/de-emphasis filter")
	high := fs.Bool("highpass", false, "high-pass filter")
	low := fs.Bool("lowpass", false, "low-pass filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.settings(ctx)
	if err != nil {
		return err
	}
	r, err := settings.Load(ctx, store)
	if err != nil {
		return err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "deemphasis":
			r.Filters.Deemphasis = *pre
		case "highpass":
			r.Filters.Highpass = *high
		case "lowpass":
			r.Filters.Lowpass = *low
		}
	})

	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	if err := ctrl.SetFilters(ctx, r.FiltersCommand()); err != nil {
		return err
	}
	if err := settings.Save(ctx, store, r); err != nil {
		return err
	}
	log.Printf("Filters: deemphasis=%t highpass=%t lowpass=%t",
		r.Filters.Deemphasis, r.Filters.Highpass, r.Filters.Lowpass)
	return nil
}

func runStop(ctx context.Context, a *app, _ []string) error {
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	return ctrl.Stop(ctx)
}

func runMonitor(ctx context.Context, a *app, _ []string) error {
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	sub := ctrl.Subscribe()
	defer sub.Close()

	if a.cfg.BLE.Reconnect {
		r := radio.NewReconnector(ctrl, a.cfg.BLE.ReconnectMax)
		defer r.Close()
	}

	log.Println("Monitoring. Ctrl+C to quit.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			printEvent(ev)
			if ev.Kind == radio.EventLinkLost && !a.cfg.BLE.Reconnect {
				return ev.Err
			}
		}
	}
}

func printEvent(ev radio.Event) {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Kind {
	case radio.EventNotification:
		fmt.Printf("%s  #%d  %q\n", ts, ev.Seq, ev.Response.Text())
	case radio.EventStateChanged:
		fmt.Printf("%s  state: %s\n", ts, ev.State)
	case radio.EventLinkLost:
		fmt.Printf("%s  link lost: %v\n", ts, ev.Err)
	}
}

func runPTT(ctx context.Context, a *app, _ []string) error {
	mode, err := hotkey.ParseMode(a.cfg.Hotkey.Mode)
	if err != nil {
		return err
	}
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}

	var recorder *audio.Recorder
	if a.cfg.Audio.RecordDir != "" {
		recorder, err = audio.NewRecorder(a.cfg.Audio.SampleRate, a.cfg.Audio.Channels)
		if err != nil {
			return fmt.Errorf("initializing audio recorder: %w", err)
		}
		defer recorder.Close()
		log.Printf("Recording transmissions to %s", a.cfg.Audio.RecordDir)
	}

	listener := hotkey.NewListener(a.cfg.Hotkey.Keys, mode)
	go listener.Start()
	defer listener.Stop()

	keys := strings.Join(a.cfg.Hotkey.Keys, "+")
	log.Printf("Ready! Press %s to transmit (%s mode). Ctrl+C to quit.", keys, mode)

	keyed := false
	unkey := func() {
		// Unkey even after Ctrl+C; a stuck transmitter is the worst outcome.
		uctx, cancel := context.WithTimeout(context.Background(), a.cfg.Controller.CommandTimeout)
		defer cancel()
		if err := ctrl.PttUp(uctx); err != nil {
			log.Printf("ERROR: unkey failed: %v", err)
		}
		keyed = false
		if recorder != nil {
			saveTransmission(recorder, a.cfg)
		}
		log.Println("Receiving")
	}
	defer func() {
		if keyed {
			unkey()
		}
	}()

	events := listener.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case hotkey.EventKey:
				if err := ctrl.PttDown(ctx); err != nil {
					if errors.Is(err, radio.ErrNotConnected) {
						return err
					}
					log.Printf("ERROR: key failed: %v", err)
					continue
				}
				keyed = true
				log.Println("Transmitting...")
				if recorder != nil {
					if err := recorder.Start(); err != nil {
						log.Printf("ERROR: failed to start recording: %v", err)
					}
				}
			case hotkey.EventUnkey:
				if keyed {
					unkey()
				}
			}
		}
	}
}

// saveTransmission writes the captured microphone audio next to earlier
// captures. The radio cannot take audio over BLE yet, so this is a local
// record only.
func saveTransmission(recorder *audio.Recorder, cfg *config.Config) {
	samples := recorder.Stop()
	if len(samples) == 0 {
		return
	}
	path := audio.RecordingPath(cfg.Audio.RecordDir, time.Now())
	if err := audio.WriteWAV(path, samples, int(recorder.SampleRate()), int(recorder.Channels())); err != nil {
		log.Printf("ERROR: saving transmission: %v", err)
		return
	}
	secs := float64(len(samples)) / float64(recorder.SampleRate()*recorder.Channels())
	log.Printf("Saved %.1fs of audio to %s", secs, path)
	if n := recorder.Dropped(); n > 0 {
		log.Printf("Transmission exceeded %s; %d samples not saved", audio.DefaultMaxDuration, n)
	}
}
