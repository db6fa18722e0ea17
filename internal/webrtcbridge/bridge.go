// Package webrtcbridge is the WebRTC SRTP bridge collaborator spec.md §1
// names alongside the netlink wrapper and packet capture library: a thin
// viewer-attach boundary, not a video pipeline. A viewer attaches to a
// tracked RTP flow by its canonical flow key (spec.md §9 — "WebRTC viewers
// reference flows by canonical key only"); C6 then republishes every RTP
// packet it decodes on that flow (whatever its SSRC) straight onto the viewer's
// `TrackLocalStaticRTP`, unmodified. There is no transcoding, jitter
// buffering, or bitrate adaptation here — that belongs to whatever decodes
// the original flow.
package webrtcbridge

import (
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/jittertrap/jittertrap/internal/flowtrack"
	"github.com/jittertrap/jittertrap/internal/logging"
)

var log = logging.L("webrtcbridge")

var defaultICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ICEServerConfig mirrors the shape a browser viewer posts in its offer.
type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

func toICEServers(raw []ICEServerConfig) []webrtc.ICEServer {
	if len(raw) == 0 {
		return defaultICEServers
	}
	servers := make([]webrtc.ICEServer, 0, len(raw))
	for _, s := range raw {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		return defaultICEServers
	}
	return servers
}

// viewer is one attached browser peer for a single flow key.
type viewer struct {
	id       string
	peerConn *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticRTP
}

// Bridge holds the viewer registry keyed by canonical flow key, per
// spec.md §5. Safe for concurrent Attach/Forward/Detach calls.
type Bridge struct {
	mu      sync.RWMutex
	viewers map[flowtrack.Key]map[string]*viewer
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{viewers: make(map[flowtrack.Key]map[string]*viewer)}
}

// Attach creates a PeerConnection for viewerID watching key, answers offer,
// and registers the viewer so ForwardRTP republishes packets to it.
func (b *Bridge) Attach(key flowtrack.Key, viewerID, offer string, iceServers []ICEServerConfig) (answer string, err error) {
	peerConn, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: toICEServers(iceServers)})
	if err != nil {
		return "", fmt.Errorf("webrtcbridge: new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "jittertrap-flow",
	)
	if err != nil {
		peerConn.Close()
		return "", fmt.Errorf("webrtcbridge: new track: %w", err)
	}
	sender, err := peerConn.AddTrack(track)
	if err != nil {
		peerConn.Close()
		return "", fmt.Errorf("webrtcbridge: add track: %w", err)
	}
	// Drain RTCP so the sender's read buffer never backs up and blocks
	// WriteRTP; this bridge has no encoder to react to PLI/FIR with, so
	// the packets are just discarded once parsed.
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, readErr := sender.Read(buf)
			if readErr != nil {
				return
			}
			if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
				continue
			}
		}
	}()

	v := &viewer{id: viewerID, peerConn: peerConn, track: track}
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed ||
			state == webrtc.PeerConnectionStateDisconnected {
			b.Detach(key, viewerID)
		}
	})

	if err := peerConn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		peerConn.Close()
		return "", fmt.Errorf("webrtcbridge: set remote description: %w", err)
	}
	pcAnswer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return "", fmt.Errorf("webrtcbridge: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(pcAnswer); err != nil {
		peerConn.Close()
		return "", fmt.Errorf("webrtcbridge: set local description: %w", err)
	}
	<-gatherComplete

	b.mu.Lock()
	if b.viewers[key] == nil {
		b.viewers[key] = make(map[string]*viewer)
	}
	b.viewers[key][viewerID] = v
	b.mu.Unlock()

	log.Info("viewer attached", "flow", key, "viewer", viewerID)

	ld := peerConn.LocalDescription()
	if ld == nil {
		return "", fmt.Errorf("webrtcbridge: local description not available")
	}
	return ld.SDP, nil
}

// Detach tears down one viewer's PeerConnection and removes it from key's
// registration. Safe to call more than once.
func (b *Bridge) Detach(key flowtrack.Key, viewerID string) {
	b.mu.Lock()
	set, ok := b.viewers[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	v, ok := set[viewerID]
	if ok {
		delete(set, viewerID)
	}
	if len(set) == 0 {
		delete(b.viewers, key)
	}
	b.mu.Unlock()

	if v != nil {
		v.peerConn.Close()
		log.Info("viewer detached", "flow", key, "viewer", viewerID)
	}
}

// ForwardRTP republishes one decoded RTP packet to every viewer attached to
// key. Wired as flowtrack.Tracker's OnRTP hook so C6 never imports WebRTC
// itself — the tracker only knows it is handing a packet to some sink.
func (b *Bridge) ForwardRTP(key flowtrack.Key, pkt *rtp.Packet) {
	b.mu.RLock()
	set, ok := b.viewers[key]
	if !ok || len(set) == 0 {
		b.mu.RUnlock()
		return
	}
	tracks := make([]*webrtc.TrackLocalStaticRTP, 0, len(set))
	for _, v := range set {
		tracks = append(tracks, v.track)
	}
	b.mu.RUnlock()

	for _, track := range tracks {
		if err := track.WriteRTP(pkt); err != nil {
			log.Warn("webrtcbridge: write RTP failed", "flow", key, "error", err)
		}
	}
}

// ActiveFlows reports how many distinct flows currently have at least one
// attached viewer, for diagnostics.
func (b *Bridge) ActiveFlows() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}
