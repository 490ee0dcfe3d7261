package http

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSpotNumberUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"A1"`, "A1"},
		{`"12"`, "12"},
		{`12`, "12"},
		{`3.0`, "3.0"},
	}
	for _, tc := range cases {
		var s spotNumber
		if err := json.Unmarshal([]byte(tc.raw), &s); err != nil {
			t.Errorf("unmarshal %s: %v", tc.raw, err)
			continue
		}
		if string(s) != tc.want {
			t.Errorf("unmarshal %s = %q, want %q", tc.raw, s, tc.want)
		}
	}

	var s spotNumber
	if err := json.Unmarshal([]byte(`true`), &s); err == nil {
		t.Errorf("expected error for boolean spot_number")
	}
}

func TestWebhookRequestCentreAlias(t *testing.T) {
	var req webhookRequest
	payload := `{"spot_number":"A1","left_distance":50,"centre_distance":48,"right_distance":52}`
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.center() == nil || *req.center() != 48 {
		t.Fatalf("centre_distance alias not picked up")
	}
	if missing := req.missingFields(); len(missing) != 0 {
		t.Fatalf("missing = %v, want none", missing)
	}
}

func TestWebhookRequestMissingFields(t *testing.T) {
	var req webhookRequest
	payload := `{"spot_number":"A1","left_distance":50}`
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	missing := req.missingFields()
	joined := strings.Join(missing, ", ")
	if !strings.Contains(joined, "center_distance") || !strings.Contains(joined, "right_distance") {
		t.Fatalf("missing = %v, want center_distance and right_distance", missing)
	}
}
