package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rmsg/internal/config"
	"github.com/1ureka/rmsg/internal/fragment"
	"github.com/1ureka/rmsg/internal/protocol"
	"github.com/1ureka/rmsg/internal/reassembly"
	"github.com/1ureka/rmsg/internal/signaling"
	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

const (
	statsInterval = 5 * time.Second
	pinLength     = 4
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// runServer opens the configured carrier and prints incoming messages to
// stdout until the client disconnects.
func runServer(ctx context.Context, cfg *config.Config) error {
	conn, err := openServerConn(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchDataChannel(ctx, conn)

	util.StartStatsReporter(ctx, statsInterval)
	util.LogSuccess("listening on %s (%s)", conn.LocalAddr(), cfg.Transport)

	srv := reassembly.NewServer(conn, cfg.Protocol)
	srv.OnMessage = func(peer net.Addr, total int) {
		fmt.Fprintln(os.Stdout)
		util.ForPeer(peer).Info("message received (%d bytes)", total)
	}

	if err := srv.Serve(ctx, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openServerConn(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		pin := serverPIN(cfg)
		srv, err := signaling.Listen(cfg.Address(), pin)
		if err != nil {
			return nil, err
		}
		defer srv.Close()

		pterm.DefaultBox.WithTitle("WebSocket Server").Println(
			fmt.Sprintf("Port : %d\nPIN  : %s\nPath : %s", srv.Port(), pin, signaling.Path))
		util.LogInfo("waiting for client...")

		ws, err := srv.Accept(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewWebSocket(ws), nil

	case config.TransportWebRTC:
		return signaling.EstablishAsHost(ctx, cfg.Address(), serverPIN(cfg))

	default:
		return transport.ListenUDP(cfg.Address())
	}
}

// watchDataChannel logs when a WebRTC carrier is torn down underneath the
// protocol, e.g. after an ICE failure.
func watchDataChannel(ctx context.Context, conn transport.Conn) {
	dc, ok := conn.(*transport.DataChannel)
	if !ok {
		return
	}
	go func() {
		select {
		case <-dc.Done():
			if ctx.Err() == nil {
				util.LogWarning("DataChannel closed (PeerConnection %s)", dc.ConnectionState())
			}
		case <-ctx.Done():
		}
	}()
}

// serverPIN returns the configured PIN, generating one when none is set.
func serverPIN(cfg *config.Config) string {
	if cfg.PIN == "" {
		cfg.PIN = signaling.GeneratePIN(pinLength)
	}
	return cfg.PIN
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// client bundles an open carrier with the fragmenter running over it.
type client struct {
	conn transport.Conn
	frag *fragment.Client
	peer net.Addr
	size int // fragment size, for reporting
}

func openClient(ctx context.Context, cfg *config.Config) (*client, error) {
	var (
		conn transport.Conn
		peer net.Addr
	)
	switch cfg.Transport {
	case config.TransportWebSocket:
		ws, err := signaling.Dial(ctx, cfg.WSURL)
		if err != nil {
			return nil, err
		}
		w := transport.NewWebSocket(ws)
		conn, peer = w, ws.RemoteAddr()

	case config.TransportWebRTC:
		dc, err := signaling.EstablishAsClient(ctx, cfg.WSURL)
		if err != nil {
			return nil, err
		}
		conn, peer = dc, dc.LocalAddr()

	default:
		u, err := transport.DialUDP(cfg.Address())
		if err != nil {
			return nil, err
		}
		conn, peer = u, u.Peer()
	}

	return &client{
		conn: conn,
		frag: fragment.New(conn, cfg.Protocol),
		peer: peer,
		size: cfg.Protocol.FragmentSize,
	}, nil
}

// runClientOnce connects, sends a single message (or a corrupted probe)
// and disconnects.
func runClientOnce(ctx context.Context, cfg *config.Config, payload []byte, probe bool) error {
	c, err := openClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
	}
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchDataChannel(ctx, c.conn)

	s, err := c.frag.Connect(ctx, c.peer)
	if err != nil {
		return err
	}
	util.ForPeer(c.peer).Info("connected to server")

	if probe {
		c.probe(ctx, s, payload)
	} else if err := c.send(ctx, s, payload); err != nil {
		return err
	}
	return c.frag.Disconnect(ctx, s)
}

// runClient connects and then offers the interactive menu until the user
// ends the communication.
func runClient(ctx context.Context, cfg *config.Config) error {
	c, err := openClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", cfg.Transport, err)
	}
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchDataChannel(ctx, c.conn)

	s, err := c.frag.Connect(ctx, c.peer)
	if err != nil {
		return err
	}
	util.ForPeer(c.peer).Info("connected to server")

	const (
		optSend  = "Send a text message"
		optProbe = "Send a corrupted probe"
		optEnd   = "End communication"
	)
	for ctx.Err() == nil {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{optSend, optProbe, optEnd}).
			WithDefaultText("What next?").
			Show()
		pterm.Println()

		switch choice {
		case optSend:
			msg := askText(fmt.Sprintf("Message (max %d bytes)", cfg.Protocol.MaxMessageLen), "")
			err := c.send(ctx, s, []byte(msg))
			switch {
			case errors.Is(err, protocol.ErrMessageTooLarge):
				util.LogWarning("%v", err)
			case err != nil:
				util.LogError("%v", err)
				// The server's view of the message is unknown; start over.
				if s, err = c.frag.Connect(ctx, c.peer); err != nil {
					return err
				}
			}

		case optProbe:
			payload := askText("Probe payload", "test")
			c.probe(ctx, s, []byte(payload))

		case optEnd:
			return c.frag.Disconnect(ctx, s)
		}
	}
	return nil
}

func (c *client) send(ctx context.Context, s *fragment.Session, msg []byte) error {
	start := time.Now()
	if err := c.frag.Send(ctx, s, msg); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	util.LogSuccess("message delivered (%d bytes in %d fragments, %s)",
		len(msg), config.Fragments(len(msg), c.size), time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *client) probe(ctx context.Context, s *fragment.Session, payload []byte) {
	res, err := fragment.Probe(ctx, c.frag, s, payload)
	switch {
	case err != nil:
		util.LogError("probe failed: %v", err)
	case res.Rejected && res.Replied:
		util.LogSuccess("server rejected the corrupted fragment (%s after %d attempts)", res.LastReply, res.Attempts)
	case res.Rejected:
		util.LogWarning("server never answered the corrupted fragment (%d attempts)", res.Attempts)
	default:
		util.LogError("server acknowledged a corrupted fragment")
	}
}
