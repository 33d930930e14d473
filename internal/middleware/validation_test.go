package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateMessageBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", "hello", false},
		{"empty", "", true},
		{"max length", strings.Repeat("a", 8192), false},
		{"too long", strings.Repeat("a", 8193), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"unicode", "héllo wörld 你好", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessageBody(tc.body)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateMessageBody(%q) = %v", tc.body, err)
			}
		})
	}
}

func TestValidateConversationID(t *testing.T) {
	if err := ValidateConversationID(uuid.New().String()); err != nil {
		t.Errorf("valid uuid rejected: %v", err)
	}
	if err := ValidateConversationID(""); err == nil {
		t.Error("empty id accepted")
	}
	if err := ValidateConversationID("not-a-uuid"); err == nil {
		t.Error("malformed id accepted")
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("widget-session-42"); err != nil {
		t.Errorf("valid session id rejected: %v", err)
	}
	if err := ValidateSessionID(""); err == nil {
		t.Error("empty session id accepted")
	}
	if err := ValidateSessionID(strings.Repeat("s", 129)); err == nil {
		t.Error("oversized session id accepted")
	}
}

func TestValidateVisitorName(t *testing.T) {
	if err := ValidateVisitorName(""); err != nil {
		t.Errorf("empty name is optional, got %v", err)
	}
	if err := ValidateVisitorName(strings.Repeat("n", 257)); err == nil {
		t.Error("oversized name accepted")
	}
}
