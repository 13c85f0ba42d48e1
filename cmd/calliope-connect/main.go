// Command calliope-connect finds Calliope mini boards over Bluetooth LE,
// connects to the one whose LED pattern you enter, checks that it runs the
// expected program and can reboot it into Bluetooth mode.
//
// Usage:
//
//	calliope-connect [-config path] [ui]
//	calliope-connect [-config path] scan [-timeout 10s]
//	calliope-connect [-config path] connect [-reset] <name>
//	calliope-connect init
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/ble/bluez"
	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/config"
	"github.com/chaz8081/calliope-connect/internal/connection"
	"github.com/chaz8081/calliope-connect/internal/matrix"
	"github.com/chaz8081/calliope-connect/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/calliope-connect/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	cmd, args := "ui", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "init" {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	slog.SetLogLoggerLevel(config.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		err = runScan(ctx, cfg, args)
	case "connect":
		err = runConnectCmd(ctx, cfg, args)
	case "ui":
		err = runUI(cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: calliope-connect [-config path] [ui | scan | connect [-reset] <name> | init]")
	flag.PrintDefaults()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Debug("no config file found, using defaults")
	return config.Default(), nil
}

// session holds what every Bluetooth command shares.
type session struct {
	adapter ble.Adapter
	bluez   *bluez.Client // nil when BlueZ is not reachable
	opts    calliope.Options
	profile calliope.Profile
}

func newSession(cfg *config.Config) (*session, error) {
	profile, err := calliope.ProfileByName(cfg.Profile)
	if err != nil {
		return nil, err
	}
	sess := &session{
		adapter: ble.NewTinyGoAdapter(),
		profile: profile,
		opts: calliope.Options{
			ScanTimeout:       cfg.Bluetooth.ScanTimeout,
			ConnectTimeout:    cfg.Bluetooth.ConnectTimeout,
			EvaluateTimeout:   cfg.Bluetooth.EvaluateTimeout,
			RadioPollInterval: cfg.Bluetooth.RadioPollInterval,
		},
	}
	// BlueZ only exists on Linux; elsewhere the coordinator polls the radio.
	if client, err := bluez.New(cfg.Bluetooth.Adapter); err == nil {
		sess.bluez = client
		sess.opts.RadioWatcher = client
	} else {
		slog.Debug("[BLE] bluez unavailable, polling radio state", "error", err)
	}
	return sess, nil
}

func (sess *session) close() {
	if sess.bluez != nil {
		sess.bluez.Close()
	}
}

func (sess *session) newPanel(cfg *config.Config) *connection.Panel {
	opts := connection.Options{
		RestartDelay:            cfg.Bluetooth.RestartDelay,
		ForgetOnPairingConflict: cfg.Bluetooth.ForgetOnPairingConflict,
	}
	if sess.bluez != nil {
		opts.PairingResolver = sess.bluez
	}
	factory := func(p calliope.Profile) *calliope.Discovery {
		return calliope.NewDiscovery(sess.adapter, p, sess.opts)
	}
	return connection.NewPanel(factory, sess.profile, opts)
}

func runScan(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	timeout := fs.Duration("timeout", cfg.Bluetooth.ScanTimeout, "how long to scan")
	fs.Parse(args)

	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	log.Printf("Scanning for %s...", *timeout)
	found, err := ble.ScanForDevices(ctx, sess.adapter, *timeout, func(adv ble.Advertisement) bool {
		_, ok := matrix.FriendlyFromAdvertisedName(adv.Name)
		return ok
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	printBoards(os.Stdout, found)
	return nil
}

// printBoards lists scanned boards with the LED pattern that selects them.
func printBoards(out io.Writer, found []ble.Advertisement) {
	if len(found) == 0 {
		fmt.Fprintln(out, "No Calliope mini found.")
		return
	}
	for _, adv := range found {
		friendly, _ := matrix.FriendlyFromAdvertisedName(adv.Name)
		fmt.Fprintf(out, "%-8s %-20s %4d dBm  %s\n", friendly, adv.Address, adv.RSSI, adv.Name)
		if m, err := matrix.FromFriendly(friendly); err == nil {
			fmt.Fprintln(out, indent(m.String(), "  "))
		}
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

func runConnectCmd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	reset := fs.Bool("reset", false, "reboot a board running another program into Bluetooth mode")
	fs.Parse(args)

	name := cfg.Pattern
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	if name == "" {
		return fmt.Errorf("no board name given and no pattern configured")
	}

	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	panel := sess.newPanel(cfg)
	defer panel.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Bluetooth.ScanTimeout+2*cfg.Bluetooth.ConnectTimeout+cfg.Bluetooth.RestartDelay+time.Minute)
	defer cancel()
	return runConnect(ctx, panel, name, *reset, os.Stdout)
}

func runUI(cfg *config.Config) error {
	// The terminal belongs to the UI; keep the log out of it.
	if cfg.LogFile != "" {
		f, err := tea.LogToFile(cfg.LogFile, "calliope-connect")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	panel := sess.newPanel(cfg)
	defer panel.Close()
	if cfg.Pattern != "" {
		panel.SelectDevice(cfg.Pattern)
	}

	return tui.Run(panel, calliope.PlaygroundProfile{}, calliope.FlashableProfile{})
}
