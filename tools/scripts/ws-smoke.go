// Package main provides a CI-friendly WebSocket smoke test for tuthub direct chat.
//
// It validates:
//   - both participants can open /chat/{peer} with their access tokens
//   - a chat_message from A is echoed to A and delivered to B, identically
//   - a malformed frame is ignored without closing the connection
//   - the message is present in GET /chat/{peer}/history
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tuthub/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "server base URL (http/https)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "alice", "username of participant A")
		userB   = flag.String("b", "bob", "username of participant B")
		tokenA  = flag.String("token-a", os.Getenv("TUTHUB_SMOKE_TOKEN_A"), "access token for A (see `tuthub token`)")
		tokenB  = flag.String("token-b", os.Getenv("TUTHUB_SMOKE_TOKEN_B"), "access token for B")
		text    = flag.String("text", fmt.Sprintf("hello tuthub %d", time.Now().UnixNano()), "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*tokenA) == "" || strings.TrimSpace(*tokenB) == "" {
		fatalf("both -token-a and -token-b are required")
	}

	root := context.Background()

	a := mustConnect(root, "A", chatURL(base, *userB), *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", chatURL(base, *userA), *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", *userA, *userB, *origin)
	}

	mustWrite(root, a.conn, []byte(`{"type":"ping"}`), *timeout)
	mustWrite(root, a.conn, mustJSON(v1.Inbound{Type: v1.TypeChatMessage, Message: *text}), *timeout)

	echo := a.mustReadDelivery(root, *timeout)
	got := b.mustReadDelivery(root, *timeout)

	if echo != got {
		fatalf("echo and delivery differ: A=%+v B=%+v", echo, got)
	}
	if got.Content != *text {
		fatalf("delivery content mismatch: got=%q want=%q", got.Content, *text)
	}
	if _, err := time.Parse(v1.TimestampLayout, got.Timestamp); err != nil {
		fatalf("delivery timestamp %q: %v", got.Timestamp, err)
	}

	mustHistoryContains(root, historyURL(base, *userA), *tokenB, got, *timeout)

	fmt.Printf("OK: sender=%s receiver=%s timestamp=%s\n", got.Sender, got.Receiver, got.Timestamp)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func chatURL(base *url.URL, peer string) string {
	u := *base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/chat/" + url.PathEscape(peer)
	return u.String()
}

func historyURL(base *url.URL, peer string) string {
	u := *base
	u.Path = "/chat/" + url.PathEscape(peer) + "/history"
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect %s: status=%d err=%v", name, status, err)
	}

	conn.SetReadLimit(maxReadBytes)
	return &smokeClient{name: name, conn: conn}
}

func (c *smokeClient) mustReadDelivery(parent context.Context, stepTimeout time.Duration) v1.Delivery {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		fatalf("read %s: %v", c.name, err)
	}

	var frame v1.ErrorFrame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Error != "" {
		fatalf("server error frame for %s: %s", c.name, frame.Error)
	}

	var d v1.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		fatalf("decode delivery (%s): %v", c.name, err)
	}
	return d
}

func mustHistoryContains(parent context.Context, rawURL, token string, want v1.Delivery, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		fatalf("history request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("history fetch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalf("history fetch: status=%d", resp.StatusCode)
	}

	var items []v1.Delivery
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		fatalf("history decode: %v", err)
	}
	for _, it := range items {
		if it == want {
			return
		}
	}
	fatalf("history does not contain %+v (%d items)", want, len(items))
}

func mustWrite(parent context.Context, conn *websocket.Conn, b []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
