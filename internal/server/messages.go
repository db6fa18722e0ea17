package server

import "encoding/json"

// envelope is the control-plane message wrapper, per spec.md §6
// ("{"msg":"<type>","p":{...}}").
type envelope struct {
	Msg string          `json:"msg"`
	P   json.RawMessage `json:"p"`
}

func encodeEnvelope(msg string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Msg: msg, P: p})
}

// Inbound payloads, per spec.md §4.9/§6.

type helloPayload struct{}

type devSelectPayload struct {
	Iface string `json:"iface"`
}

type setNetemPayload struct {
	Iface string `json:"iface"`
	Delay  int   `json:"delay"`
	Jitter int   `json:"jitter"`
	Loss   int   `json:"loss"`
}

type pcapConfigPayload struct {
	MaxMemoryBytes int64 `json:"max_memory_bytes"`
	DurationSec    int   `json:"duration_sec"`
	PreTriggerSec  int   `json:"pre_trigger_sec"`
	PostTriggerSec int   `json:"post_trigger_sec"`
}

type pcapTriggerPayload struct {
	Reason string `json:"reason"`
}

// Outbound payloads, per spec.md §6.

type ifaceListPayload struct {
	Ifaces []string `json:"ifaces"`
}

type netemParamsPayload struct {
	Iface  string `json:"iface"`
	Delay  int    `json:"delay"`
	Jitter int    `json:"jitter"`
	Loss   int    `json:"loss"`
}

type samplePeriodPayload struct {
	Period int `json:"period"`
}

type pcapStatusPayload struct {
	State           string  `json:"state"`
	TotalPackets    uint64  `json:"total_packets"`
	TotalBytes      uint64  `json:"total_bytes"`
	DroppedPackets  uint64  `json:"dropped_packets"`
	CurrentMemory   int64   `json:"current_memory"`
	OldestTimestampNs int64 `json:"oldest_timestamp_ns"`
}

type pcapReadyPayload struct {
	FilePath    string  `json:"file_path"`
	FileSize    int64   `json:"file_size"`
	PacketCount int     `json:"packet_count"`
	DurationSec float64 `json:"duration_sec"`
}

type resolutionPayload struct {
	MinIntervalMs int `json:"min_interval_ms"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// webrtcFlowKeyPayload is the wire form of a flowtrack.Key, per spec.md §9
// ("WebRTC viewers reference flows by canonical key only").
type webrtcFlowKeyPayload struct {
	Ethertype uint16 `json:"ethertype"`
	Protocol  uint8  `json:"protocol"`
	LowIP     string `json:"low_ip"`
	LowPort   uint16 `json:"low_port"`
	HighIP    string `json:"high_ip"`
	HighPort  uint16 `json:"high_port"`
}

type webrtcIceServerPayload struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type webrtcAttachPayload struct {
	webrtcFlowKeyPayload
	ViewerID   string                   `json:"viewer_id"`
	Offer      string                   `json:"offer"`
	ICEServers []webrtcIceServerPayload `json:"ice_servers,omitempty"`
}

type webrtcAnswerPayload struct {
	ViewerID string `json:"viewer_id"`
	Answer   string `json:"answer"`
}

type webrtcDetachPayload struct {
	webrtcFlowKeyPayload
	ViewerID string `json:"viewer_id"`
}
