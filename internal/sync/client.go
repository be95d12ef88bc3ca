package sync

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
)

// FollowTCP reads feed lines from addr and hands each to fn until ctx is done,
// the server hangs up, or fn fails.
func FollowTCP(ctx context.Context, addr string, fn func([]byte) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	return net.ErrClosed
}

// FollowWS is FollowTCP for a ws:// or wss:// feed URL.
func FollowWS(ctx context.Context, url string, fn func([]byte) error) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed: %w", err)
		}
		for _, line := range bytes.Split(bytes.TrimSpace(msg), []byte{'\n'}) {
			if err := fn(line); err != nil {
				return err
			}
		}
	}
}
