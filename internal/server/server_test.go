package server

import (
	"testing"

	"github.com/jittertrap/jittertrap/internal/webrtcbridge"
)

func TestWebrtcFlowKeyPayloadParsesValidAddresses(t *testing.T) {
	p := webrtcFlowKeyPayload{
		Ethertype: 0x0800, Protocol: 17,
		LowIP: "10.0.0.1", LowPort: 1000,
		HighIP: "10.0.0.2", HighPort: 2000,
	}
	key, err := p.flowKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.LowPort != 1000 || key.HighPort != 2000 || key.Ethertype != 0x0800 || key.Protocol != 17 {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestWebrtcFlowKeyPayloadRejectsMalformedLowIP(t *testing.T) {
	p := webrtcFlowKeyPayload{LowIP: "not-an-ip", HighIP: "10.0.0.2"}
	if _, err := p.flowKey(); err == nil {
		t.Fatalf("expected an error for malformed low_ip")
	}
}

func TestWebrtcFlowKeyPayloadRejectsMalformedHighIP(t *testing.T) {
	p := webrtcFlowKeyPayload{LowIP: "10.0.0.1", HighIP: "not-an-ip"}
	if _, err := p.flowKey(); err == nil {
		t.Fatalf("expected an error for malformed high_ip")
	}
}

func TestToBridgeICEServersReturnsNilForEmptyInput(t *testing.T) {
	if got := toBridgeICEServers(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestToBridgeICEServersConvertsFields(t *testing.T) {
	in := []webrtcIceServerPayload{
		{URLs: []string{"turn:example.com"}, Username: "u", Credential: "p"},
	}
	want := webrtcbridge.ICEServerConfig{URLs: []string{"turn:example.com"}, Username: "u", Credential: "p"}
	got := toBridgeICEServers(in)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
