package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abcd", want: "ABCD"},
		{in: "  x9Yz12 ", want: "X9YZ12"},
		{in: "", wantErr: true},
		{in: "ab-cd", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeCode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("NormalizeCode(%q): expected ErrInvalidCode, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeCode(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /room_code_check", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RoomCode string `json:"room_code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": req.RoomCode == "ABCD"})
	})
	mux.HandleFunc("POST /create_room", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"room_code": "q7w8e9r0"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Exists(t *testing.T) {
	c := New(newTestServer(t).URL, nil)

	ok, err := c.Exists(context.Background(), "abcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected ABCD to exist")
	}

	ok, err = c.Exists(context.Background(), "ZZZZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ZZZZ to not exist")
	}
}

func TestClient_Create(t *testing.T) {
	c := New(newTestServer(t).URL, nil)

	code, err := c.Create(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "Q7W8E9R0" {
		t.Errorf("expected canonical code, got %s", code)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, nil).Create(context.Background()); err == nil {
		t.Fatal("expected error on 500")
	}
}
