package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/hub"
	"github.com/ajolex/surveycto-vc-agent/iox"
	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// NativeHostCommand returns the native-host command. The browser starts it
// with the calling extension's origin as its only argument and talks to it
// over length-prefixed JSON on stdin and stdout.
func NativeHostCommand() *cli.Command {
	return &cli.Command{
		Name:      "native-host",
		Usage:     "Run as a browser native-messaging host bridged to the hub",
		ArgsUsage: "[extension-origin]",
		Flags:     []cli.Flag{URLFlag, TimeoutFlag},
		Action:    nativeHostAction,
	}
}

func nativeHostAction(c *cli.Context) error {
	// stdout belongs to the browser; logs go to stderr only.
	logger := log.NewLogger(log.Meta{Component: "native-host"})
	enc := ipc.NewFrameEncoder(os.Stdout, ipc.NativeMessaging)

	client, err := hub.Dial(c.Context, c.String("url"), hub.DialOptions{
		Codec:   ipc.JSON,
		Timeout: c.Duration("timeout"),
		Logger:  logger,
		OnMessage: func(msg types.Message) {
			if err := enc.WriteMessage(msg); err != nil {
				logger.Warn("forward to browser failed", map[string]any{"type": msg.Kind(), "error": err.Error()})
			}
		},
	})
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer iox.DiscardClose(client)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := serveNative(ctx, ipc.NewFrameDecoder(os.Stdin, ipc.NativeMessaging), enc, client, logger); err != nil {
		return cli.Exit(fmt.Sprintf("native host: %v", err), exitFailed)
	}
	return nil
}

// hubCaller is the part of *hub.Client the native host uses.
type hubCaller interface {
	Call(ctx context.Context, msg types.Message) (any, error)
	Send(msg types.Message) error
}

// serveNative relays browser messages to the hub until stdin ends.
// Requests are answered with a RESPONSE carrying the browser's own
// requestId; messages without one are forwarded as is.
func serveNative(ctx context.Context, dec *ipc.FrameDecoder, enc *ipc.FrameEncoder, peer hubCaller, logger *log.Logger) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := dec.ReadMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return err
			}
			logger.Warn("undecodable message from browser", map[string]any{"error": err.Error()})
			continue
		}

		id := msg.Head().RequestID
		if id == 0 {
			if err := peer.Send(msg); err != nil {
				logger.Warn("forward to hub failed", map[string]any{"type": msg.Kind(), "error": err.Error()})
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := peer.Call(ctx, msg)
			if err != nil {
				body = types.CommandReply{Success: false, Error: err.Error()}
			}
			resp := types.Stamp(&types.Response{Body: body})
			resp.RequestID = id
			if err := enc.WriteMessage(resp); err != nil {
				logger.Warn("reply to browser failed", map[string]any{"request_id": id, "error": err.Error()})
			}
		}()
	}
}
