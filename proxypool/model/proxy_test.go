package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"HTTP":    ProtocolHTTP,
		"https":   ProtocolHTTP,
		"socks4":  ProtocolSOCKS4,
		"socks4a": ProtocolSOCKS4,
		"SOCKS5":  ProtocolSOCKS5,
		"":        ProtocolSOCKS5,
		"weird":   ProtocolSOCKS5,
	}
	for in, want := range cases {
		if got := ParseProtocol(in); got != want {
			t.Errorf("ParseProtocol(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCandidate_KeyAndURL(t *testing.T) {
	c := Candidate{IP: "10.0.0.1", Port: 1080, Protocol: ProtocolSOCKS5}
	if c.Key() != "10.0.0.1:1080" {
		t.Errorf("Expected key '10.0.0.1:1080', got '%s'", c.Key())
	}
	if c.URL() != "socks5://10.0.0.1:1080" {
		t.Errorf("Expected url 'socks5://10.0.0.1:1080', got '%s'", c.URL())
	}
}

func TestSnapshot_JSONLayout(t *testing.T) {
	tested := time.Unix(1700000000, 0)
	snap := Snapshot{
		CapturedAt: time.Unix(1700000100, 0),
		Proxies: []*ValidatedProxy{{
			Candidate:  Candidate{IP: "1.2.3.4", Port: 8080, Protocol: ProtocolHTTP, Anonymity: "elite", Country: "JP", Source: "geonode"},
			Working:    true,
			Latency:    1500 * time.Millisecond,
			LastTested: tested,
		}},
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() returned an error: %v", err)
	}
	for _, key := range []string{`"timestamp":1700000100`, `"ip":"1.2.3.4"`, `"response_time":1.5`, `"last_tested":1700000000`, `"working":true`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected %s in %s", key, data)
		}
	}

	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() returned an error: %v", err)
	}
	if !back.CapturedAt.Equal(snap.CapturedAt) {
		t.Errorf("Expected captured_at %v, got %v", snap.CapturedAt, back.CapturedAt)
	}
	if len(back.Proxies) != 1 || back.Proxies[0].Latency != 1500*time.Millisecond {
		t.Fatalf("Unexpected proxies after decode: %+v", back.Proxies)
	}
	if !back.Proxies[0].LastTested.Equal(tested) {
		t.Errorf("Expected last_tested %v, got %v", tested, back.Proxies[0].LastTested)
	}
}
