package auth

import (
	"context"
	"errors"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"bearer scheme", "Bearer rgk_abc123def", "rgk_abc123def", nil},
		{"lowercase scheme", "bearer rgk_abc123def", "rgk_abc123def", nil},
		{"bare token", "rgk_abc123def", "rgk_abc123def", nil},
		{"trailing space", "Bearer rgk_abc123def  ", "rgk_abc123def", nil},
		{"empty header", "", "", ErrMissingAPIKey},
		{"wrong prefix", "Bearer sk_live_abc", "", ErrInvalidAPIKey},
		{"scheme only", "Bearer ", "", ErrInvalidAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator("rgk_static_key_12345", "default")

	fleet, err := a.Authenticate(context.Background(), "rgk_static_key_12345")
	if err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if fleet.Name != "default" {
		t.Errorf("fleet name = %q", fleet.Name)
	}
	if fleet.Overrides != nil {
		t.Error("static auth should carry no overrides")
	}

	if _, err := a.Authenticate(context.Background(), "rgk_wrong_key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("wrong key: err = %v, want ErrInvalidAPIKey", err)
	}
}
