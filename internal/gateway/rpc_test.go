package gateway

import (
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		method   string
		wantCode int
	}{
		{"valid request", `{"jsonrpc":"2.0","id":1,"method":"health"}`, "health", 0},
		{"valid with params", `{"jsonrpc":"2.0","id":"a","method":"chat.send","params":{"text":"hi"}}`, "chat.send", 0},
		{"not json", `{{{`, "", CodeParseError},
		{"empty frame", ``, "", CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"health"}`, "", CodeInvalidRequest},
		{"missing version", `{"id":1,"method":"health"}`, "", CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, "", CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := parseRequest([]byte(tt.raw))
			if tt.wantCode == 0 {
				if rpcErr != nil {
					t.Fatalf("unexpected error: %+v", rpcErr)
				}
				if req.Method != tt.method {
					t.Errorf("expected method %q, got %q", tt.method, req.Method)
				}
				return
			}
			if rpcErr == nil {
				t.Fatal("expected error")
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, rpcErr.Code)
			}
		})
	}
}

func TestTokenFromParams(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{`{"token":"secret"}`, "secret"},
		{`{"text":"hi"}`, ""},
		{``, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := tokenFromParams([]byte(tt.raw)); got != tt.expected {
			t.Errorf("tokenFromParams(%q): expected %q, got %q", tt.raw, tt.expected, got)
		}
	}
}
