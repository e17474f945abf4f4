// Command rmsg is the CLI entry point.
//
// This tool sends text messages over an unreliable datagram carrier (UDP,
// WebSocket or a WebRTC DataChannel) using a small stop-and-wait protocol:
// every fragment is checksummed, acknowledged and resent until it gets
// through. One process runs as the server, the other as the client.
//
// It can be launched interactively (no -role flag) or non-interactively via
// CLI flags and an optional TOML / YAML config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/rmsg/internal/config"
	"github.com/1ureka/rmsg/internal/signaling"
	"github.com/1ureka/rmsg/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a .toml or .yaml config file")
	role := flag.String("role", "", "Role: server or client")
	addr := flag.String("addr", "", "Server host (client) or bind host (server)")
	port := flag.Int("port", 0, "Server port, 1~65535")
	transportKind := flag.String("transport", "", "Datagram carrier: udp, ws or webrtc")
	wsURL := flag.String("wsUrl", "", "WebSocket URL of the server (client, ws/webrtc only)")
	pin := flag.String("pin", "", "PIN required from WebSocket clients (ws/webrtc only)")
	message := flag.String("message", "", "Send this message and exit (client only)")
	probe := flag.String("probe", "", "Send this payload with a corrupted checksum and exit (client only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Explicit flags override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = config.Role(*role)
		case "addr":
			cfg.Addr = *addr
		case "port":
			cfg.Port = *port
		case "transport":
			cfg.Transport = config.TransportKind(*transportKind)
		case "wsUrl":
			cfg.WSURL = *wsURL
		case "pin":
			cfg.PIN = *pin
		case "debug":
			cfg.Debug = *debugMode
		}
	})
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rmsg — v%s", version))
	pterm.Println()

	switch cfg.Role {
	case "":
		// No role → interactive mode.
		runInteractive(ctx, cfg)

	case config.RoleServer:
		if err := runServer(ctx, cfg); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}

	case config.RoleClient:
		if cfg.Transport != config.TransportUDP {
			u, err := clientURL(cfg)
			if err != nil {
				util.LogError("%v", err)
				os.Exit(1)
			}
			cfg.WSURL = u
		}

		var err error
		switch {
		case *message != "":
			err = runClientOnce(ctx, cfg, []byte(*message), false)
		case *probe != "":
			err = runClientOnce(ctx, cfg, []byte(*probe), true)
		default:
			err = runClient(ctx, cfg)
		}
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	util.LogInfo("communication ended")
}

// runInteractive asks for the role and endpoint when no -role is given.
func runInteractive(ctx context.Context, cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Receive messages", "Client — Send messages"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	var err error
	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		cfg.Port = askPort("Port to listen on (1 ~ 65535)", cfg.Port)
		err = runServer(ctx, cfg)
	} else {
		cfg.Role = config.RoleClient
		if cfg.Transport == config.TransportUDP {
			cfg.Addr = askText("Server host", cfg.Addr)
			cfg.Port = askPort("Server port (1 ~ 65535)", cfg.Port)
		} else {
			cfg.WSURL = askURL(cfg)
		}
		err = runClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// clientURL returns the WebSocket URL the client dials: -wsUrl when given,
// otherwise one built from -addr and -port. The PIN is added as a query
// parameter when the URL does not carry one.
func clientURL(cfg *config.Config) (string, error) {
	raw := cfg.WSURL
	if raw == "" {
		raw = fmt.Sprintf("ws://%s", cfg.Address())
	}
	return normalizeWSURL(raw, cfg.PIN)
}

// normalizeWSURL validates a raw WebSocket URL, defaulting the scheme to
// wss and the path to the signaling endpoint.
func normalizeWSURL(raw, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = signaling.Path
	}
	if q := u.Query(); pin != "" && q.Get("pin") == "" {
		q.Set("pin", pin)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string, def int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			WithDefaultValue(strconv.Itoa(def)).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askText prompts for a non-empty line, offering def.
func askText(prompt, def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			WithDefaultValue(def).
			Show()

		if strings.TrimSpace(raw) != "" {
			pterm.Println()
			return raw
		}
		util.LogWarning("input must not be empty")
		pterm.Println()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(cfg *config.Config) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. ws://127.0.0.1:8080/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw, cfg.PIN)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
