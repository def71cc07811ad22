// Command test-hotkey is a manual test for the push-to-talk hotkey listener.
// Run it, then press the keys to see key and unkey events. No radio is
// involved. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle] [--keys ctrl,shift,t]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/kv4p-ht/internal/hotkey"
)

func main() {
	modeFlag := flag.String("mode", "hold", "hotkey mode: hold or toggle")
	keysFlag := flag.String("keys", "ctrl,shift,t", "comma-separated key combo")
	flag.Parse()

	mode, err := hotkey.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	keys := strings.Split(*keysFlag, ",")
	fmt.Printf("Listening for %s in %q mode...\n", strings.Join(keys, "+"), mode)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		var keyedAt time.Time
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventKey:
				keyedAt = time.Now()
				fmt.Println(">>> KEY   (would transmit)")
			case hotkey.EventUnkey:
				fmt.Printf("<<< UNKEY (keyed for %s)\n", time.Since(keyedAt).Round(time.Millisecond))
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
