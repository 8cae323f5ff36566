package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddle-chat/huddle/pkg/protocol"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWSDialer_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Echo one frame back as new_message, plus one malformed frame first.
		var in protocol.Envelope
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		out, _ := protocol.NewEnvelope(protocol.EventNewMessage, protocol.NewMessage{UserID: "u2", Message: "hi"})
		_ = conn.WriteJSON(out)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	d := &WSDialer{}
	c, err := d.Dial(context.Background(), wsURL(srv), "t1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if auth := <-gotAuth; auth != "Bearer t1" {
		t.Errorf("expected bearer header, got %q", auth)
	}

	join, _ := protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoom{RoomCode: "ABCD"})
	if err := c.Write(join); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := c.Read(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	env, err := c.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg protocol.NewMessage
	if err := env.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.UserID != "u2" || msg.Message != "hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWSDialer_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&WSDialer{}).Dial(context.Background(), wsURL(srv), "bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !TokenRejected(err) {
		t.Error("expected TokenRejected to be true")
	}
}

func TestWSDialer_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Non-routable address so the dial hangs until the context expires.
	_, err := (&WSDialer{}).Dial(ctx, "ws://10.255.255.1:81/ws", "t")
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset by peer"), true},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, false},
		{"policy", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"token expired", &websocket.CloseError{Code: protocol.CloseTokenExpired}, true},
	}
	for _, tt := range tests {
		if got := Recoverable(tt.err); got != tt.want {
			t.Errorf("%s: Recoverable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTokenRejected_CloseCode(t *testing.T) {
	if !TokenRejected(&websocket.CloseError{Code: protocol.CloseTokenExpired}) {
		t.Error("expected close 4001 to mean token rejected")
	}
	if TokenRejected(&websocket.CloseError{Code: websocket.CloseGoingAway}) {
		t.Error("going away is not a token rejection")
	}
}
