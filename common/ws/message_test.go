package ws

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		wantOK   bool
		wantType string
		wantErr  bool
	}{
		{name: "typed envelope", frame: `{"type":"metrics","data":{"tenant_id":"a"}}`, wantOK: true, wantType: MessageTypeMetrics},
		{name: "pong", frame: `{"type":"pong"}`, wantOK: true, wantType: MessageTypePong},
		{name: "bare object", frame: `{"tenant_id":"a","cpu_usage":1}`, wantOK: false},
		{name: "array", frame: `[1,2]`, wantErr: true},
		{name: "garbage", frame: `{"type":`, wantErr: true},
		{name: "empty", frame: ``, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env, ok, err := ParseEnvelope([]byte(tc.frame))
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseEnvelope() error = %v, wantErr %v", err, tc.wantErr)
			}
			if ok != tc.wantOK {
				t.Fatalf("ParseEnvelope() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && env.Type != tc.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tc.wantType)
			}
		})
	}

	if _, _, err := ParseEnvelope([]byte(`"text"`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("expected ErrNotObject for a JSON string, got %v", err)
	}
}

func TestParseEnvelopeKeepsDataAndTimestamp(t *testing.T) {
	t.Parallel()

	env, ok, err := ParseEnvelope([]byte(`{"type":"metrics_update","timestamp":"2025-06-01T12:00:00Z","data":{"tenant_id":"demo-tenant-1","cpu_usage":42.5}}`))
	if err != nil || !ok {
		t.Fatalf("ParseEnvelope() ok=%v err=%v", ok, err)
	}
	if want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC); !env.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", env.Timestamp, want)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got["tenant_id"] != "demo-tenant-1" || got["cpu_usage"] != 42.5 {
		t.Errorf("payload mismatch: %v", got)
	}
}
