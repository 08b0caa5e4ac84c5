package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"animehub/internal/events"
)

func newWatchCommand(ctx *cliContext) *cobra.Command {
	var (
		tcpAddr   string
		reconnect bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow sync progress live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tcpAddr != "" {
				for {
					err := watchTCP(cmd.Context(), tcpAddr, cmd.OutOrStdout())
					if !reconnect || cmd.Context().Err() != nil {
						return err
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "disconnected, retrying:", err)
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(time.Second):
					}
				}
			}
			wsURL, err := ctx.client().websocketURL("/ws")
			if err != nil {
				return err
			}
			return watchWS(cmd.Context(), wsURL, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "Read the raw TCP feed at host:port instead of the websocket")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Redial the TCP feed after it drops")
	return cmd
}

func watchWS(ctx context.Context, wsURL string, w io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printEvent(w, msg)
	}
}

func watchTCP(ctx context.Context, addr string, w io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		printEvent(w, sc.Bytes())
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

func printEvent(w io.Writer, raw []byte) {
	var ev events.SyncEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.RunID == "" {
		// welcome banner and anything unexpected
		fmt.Fprintln(w, string(bytes.TrimSpace(raw)))
		return
	}
	at := ev.At.Local().Format("15:04:05")
	switch ev.Type {
	case events.TypeRunStarted:
		fmt.Fprintf(w, "%s %s %s/%s started (%s)\n", at, ev.RunID, ev.ContentType, ev.Provider, ev.Kind)
	case events.TypeRunPage:
		fmt.Fprintf(w, "%s %s page %d processed=%d created=%d updated=%d pending=%d errors=%d\n",
			at, ev.RunID, ev.Page, ev.Processed, ev.Created, ev.Updated, ev.Pending, ev.Errors)
	case events.TypeRunFinished:
		fmt.Fprintf(w, "%s %s %s processed=%d errors=%d %s\n", at, ev.RunID, ev.Status, ev.Processed, ev.Errors, ev.Message)
	default:
		fmt.Fprintf(w, "%s %s %s\n", at, ev.RunID, ev.Type)
	}
}
