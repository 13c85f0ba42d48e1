package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chaz8081/calliope-connect/internal/connection"
)

// connectPanel is the part of connection.Panel the headless connect drives.
type connectPanel interface {
	View() connection.View
	Subscribe(fn func(connection.View)) (unsubscribe func())
	SelectDevice(friendly string)
	Expand()
	Connect()
	ResetBoard()
}

// runConnect searches for the board named friendly and connects to it. With
// reset, a board that runs the wrong program is rebooted into Bluetooth
// mode and connected again. It returns once the board is ready to use.
func runConnect(ctx context.Context, p connectPanel, friendly string, reset bool, out io.Writer) error {
	changed := make(chan struct{}, 1)
	unsubscribe := p.Subscribe(func(connection.View) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	friendly = strings.ToLower(friendly)
	p.SelectDevice(friendly)
	p.Expand()

	last := connection.ButtonState(-1)
	resetSent := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}

		v := p.View()
		if v.Alert != nil {
			return fmt.Errorf("%s: %s", v.Alert.Title, v.Alert.Message)
		}
		if v.Device != friendly || v.Button == last {
			continue
		}
		last = v.Button
		slog.Debug("[Panel] headless connect", "button", v.Button, "discovery", v.Discovery)

		switch v.Button {
		case connection.ButtonWaitingForBluetooth:
			fmt.Fprintln(out, "Waiting for Bluetooth to be switched on...")
		case connection.ButtonSearching:
			fmt.Fprintf(out, "Searching for %s...\n", friendly)
		case connection.ButtonReadyToConnect:
			fmt.Fprintf(out, "Found %s, connecting...\n", friendly)
			p.Connect()
		case connection.ButtonNotFoundRetry:
			return fmt.Errorf("calliope %q not found", friendly)
		case connection.ButtonWrongProgram:
			if !reset || resetSent {
				return fmt.Errorf("calliope %q does not run the %s program", friendly, v.Profile)
			}
			fmt.Fprintf(out, "%s runs another program, resetting into Bluetooth mode...\n", friendly)
			resetSent = true
			p.ResetBoard()
		case connection.ButtonReadyToPlay:
			fmt.Fprintf(out, "Connected to %s (%s)\n", friendly, v.Profile)
			return nil
		}
	}
}
