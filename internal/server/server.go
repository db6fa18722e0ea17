// Package server implements the server message handler (C9): the
// WebSocket control-plane endpoint, session state machine, and the
// STARTING/RUNNING/PAUSED/STOPPING/STOPPED top-level run loop described in
// spec.md §4.9.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/flowtrack"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/metrics"
	"github.com/jittertrap/jittertrap/internal/netem"
	"github.com/jittertrap/jittertrap/internal/netiface"
	"github.com/jittertrap/jittertrap/internal/pcapbuffer"
	"github.com/jittertrap/jittertrap/internal/sampler"
	"github.com/jittertrap/jittertrap/internal/webrtcbridge"
)

// State is the server's top-level lifecycle state, per spec.md §4.9.
type State int32

const (
	Starting State = iota
	Running
	Paused
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// pcapStatusPeriod controls how often a fresh pcap_status is broadcast
// while RUNNING, per spec.md §4.9 ("every N ticks, also publish pcap
// status").
const pcapStatusPeriod = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var log = logging.L("server")

// Config configures a Server instance.
type Config struct {
	AllowedIfaces    []string
	InitialIface     string
	SamplePeriodUs   int
	PcapDir          string
	MaxJSONMsgLen    int
}

// Server ties the bus, sampler, pcap buffer, and session set together
// behind the control-plane HTTP/WebSocket endpoint.
type Server struct {
	cfg Config

	bus     *bus.Bus
	sampler *sampler.Sampler
	pcap    *pcapbuffer.Buffer
	netem   netem.Controller
	metrics *metrics.Registry
	webrtc  *webrtcbridge.Bridge

	state atomic.Int32

	sessMu   sync.Mutex
	sessions map[string]*Session
	nextID   uint64

	ifaceMu sync.Mutex
	iface   string

	pcapDroppedSeen uint64

	// OnIfaceSelect, if set, is invoked after a dev_select switches the
	// monitored interface — the hook main.go uses to tear down and
	// restart the live capture session (internal/capture) on the new
	// interface.
	OnIfaceSelect func(iface string)

	stop chan struct{}
}

// New constructs a Server in the Starting state. Run must be called to
// bring it up.
func New(cfg Config, b *bus.Bus, smp *sampler.Sampler, pcap *pcapbuffer.Buffer, nc netem.Controller, reg *metrics.Registry, wb *webrtcbridge.Bridge) *Server {
	s := &Server{
		cfg:      cfg,
		bus:      b,
		sampler:  smp,
		pcap:     pcap,
		netem:    nc,
		metrics:  reg,
		webrtc:   wb,
		sessions: make(map[string]*Session),
		iface:    cfg.InitialIface,
		stop:     make(chan struct{}),
	}
	s.state.Store(int32(Starting))
	return s
}

// State reports the server's current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Run brings the server up (STARTING -> RUNNING) and runs the periodic
// pcap_status broadcast until Shutdown is called, per spec.md §4.9.
func (s *Server) Run() {
	s.state.Store(int32(Running))
	log.Info("server running")

	ticker := time.NewTicker(pcapStatusPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.state.Store(int32(Stopped))
			return
		case <-ticker.C:
			if s.State() == Running {
				s.broadcastPcapStatus()
			}
			s.reportTierConsumers()
		}
	}
}

// reportTierConsumers refreshes the per-tier subscribed-consumer gauge,
// per A4's queue-occupancy instrumentation.
func (s *Server) reportTierConsumers() {
	if s.metrics == nil {
		return
	}
	for t := bus.Tier1; t <= bus.Tier5; t++ {
		s.metrics.TierConsumers.WithLabelValues(t.String()).Set(float64(s.bus.Queue(t).ConsumerCount()))
	}
}

// Shutdown cooperatively stops the server, per spec.md §5's volatile-flag
// convention.
func (s *Server) Shutdown() {
	s.state.Store(int32(Stopping))
	close(s.stop)

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for _, sess := range s.sessions {
		sess.close()
	}
}

// Mux returns the HTTP handler serving /ws, /pcap/<name>.pcap, /metrics,
// and a static file mount, per spec.md §6.
func (s *Server) Mux(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/pcap/", s.handlePcapFile)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func (s *Server) handlePcapFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Path)
	path := filepath.Join(s.cfg.PcapDir, name)
	if filepath.Dir(path) != filepath.Clean(s.cfg.PcapDir) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	http.ServeFile(w, r, path)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}

	id := fmt.Sprintf("sess-%d", atomic.AddUint64(&s.nextID, 1))
	sess := newSession(id, conn, s.bus, s.metrics, s.cfg.MaxJSONMsgLen, s.dispatch)

	s.sessMu.Lock()
	wasEmpty := len(s.sessions) == 0
	s.sessions[id] = sess
	s.sessMu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	if wasEmpty && s.State() == Paused {
		s.state.Store(int32(Running))
	}

	s.sendInitialState(sess)

	go sess.writePump()
	go sess.drainLoop()
	sess.readPump() // blocks until the connection closes

	s.sessMu.Lock()
	delete(s.sessions, id)
	empty := len(s.sessions) == 0
	s.sessMu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	if empty && s.State() == Running {
		s.state.Store(int32(Paused))
	}
}

// sendInitialState pushes the configuration messages a freshly connected
// session expects, per spec.md §4.9 STARTING step.
func (s *Server) sendInitialState(sess *Session) {
	ifaces, err := netiface.List(s.cfg.AllowedIfaces)
	if err != nil {
		log.Warn("interface enumeration failed", "error", err)
	}
	send := func(msgType string, payload any) {
		data, err := encodeEnvelope(msgType, payload)
		if err != nil {
			log.Error("encode initial message failed", "msg", msgType, "error", err)
			return
		}
		sess.enqueue(data)
	}

	send("iface_list", ifaceListPayload{Ifaces: ifaces})
	send("dev_select", devSelectPayload{Iface: s.currentIface()})
	send("sample_period", samplePeriodPayload{Period: s.cfg.SamplePeriodUs})
	send("pcap_status", s.pcapStatusMessage())
}

func (s *Server) currentIface() string {
	s.ifaceMu.Lock()
	defer s.ifaceMu.Unlock()
	return s.iface
}

func (s *Server) selectIface(iface string) bool {
	if !netiface.IsAllowed(iface, s.cfg.AllowedIfaces) {
		return false
	}
	s.ifaceMu.Lock()
	s.iface = iface
	s.ifaceMu.Unlock()
	if s.sampler != nil {
		s.sampler.Select(iface)
	}
	if s.OnIfaceSelect != nil {
		s.OnIfaceSelect(iface)
	}
	return true
}

func (s *Server) pcapStatusMessage() pcapStatusPayload {
	if s.pcap == nil {
		return pcapStatusPayload{State: "disabled"}
	}
	stats := s.pcap.Stats()
	if s.metrics != nil {
		s.metrics.PcapBufferBytes.Set(float64(stats.CurrentMemory))
		if stats.DroppedPackets > s.pcapDroppedSeen {
			s.metrics.PcapDropped.Add(float64(stats.DroppedPackets - s.pcapDroppedSeen))
		}
		s.pcapDroppedSeen = stats.DroppedPackets
	}
	return pcapStatusPayload{
		State:             s.pcap.State().String(),
		TotalPackets:      stats.TotalPackets,
		TotalBytes:        stats.TotalBytes,
		DroppedPackets:    stats.DroppedPackets,
		CurrentMemory:     stats.CurrentMemory,
		OldestTimestampNs: stats.OldestTimestamp.UnixNano(),
	}
}

func (s *Server) broadcastPcapStatus() {
	payload, err := encodeEnvelope("pcap_status", s.pcapStatusMessage())
	if err != nil {
		log.Error("encode pcap_status failed", "error", err)
		return
	}
	// pcap_status is a configuration-class message (interval_ns == 0),
	// routed to Tier5 per spec.md §4.8.
	s.bus.PublishTier(bus.Tier5, payload)
}

// dispatch handles one decoded inbound envelope, per spec.md §4.9: each
// recognised type is tried, a type match that fails to decode its payload
// terminates handling for that message (an error message goes back to the
// sender and the message is discarded), and every
// recognised mutation echoes updated state.
func (s *Server) dispatch(sess *Session, env envelope) {
	switch env.Msg {
	case "hello":
		// No payload fields to validate; acknowledged implicitly by the
		// initial-state push already sent on connect.

	case "dev_select":
		var p devSelectPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "dev_select: malformed payload")
			return
		}
		if !s.selectIface(p.Iface) {
			s.sendError(sess, fmt.Sprintf("dev_select: interface %q not permitted", p.Iface))
			return
		}
		s.broadcastEnvelope("dev_select", devSelectPayload{Iface: p.Iface})

	case "set_netem":
		var p setNetemPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "set_netem: malformed payload")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.netem.Apply(ctx, netem.Params{Iface: p.Iface, DelayMs: p.Delay, JitterMs: p.Jitter, LossPct: p.Loss})
		cancel()
		if err != nil {
			s.sendError(sess, "set_netem: "+err.Error())
			return
		}
		s.broadcastEnvelope("netem_params", netemParamsPayload(p))

	case "pcap_config":
		var p pcapConfigPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "pcap_config: malformed payload")
			return
		}
		if s.pcap != nil {
			s.pcap.Reconfigure(pcapbuffer.Config{
				MaxMemoryBytes: p.MaxMemoryBytes,
				DurationSec:    p.DurationSec,
				PreTriggerSec:  p.PreTriggerSec,
				PostTriggerSec: p.PostTriggerSec,
			})
			s.pcap.Enable()
		}
		s.broadcastEnvelope("pcap_status", s.pcapStatusMessage())

	case "pcap_trigger":
		var p pcapTriggerPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "pcap_trigger: malformed payload")
			return
		}
		if s.pcap == nil || !s.pcap.Trigger(time.Now()) {
			s.sendError(sess, "pcap_trigger: buffer not enabled")
			return
		}
		go s.completeTrigger()

	case "webrtc_attach":
		var p webrtcAttachPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "webrtc_attach: malformed payload")
			return
		}
		if s.webrtc == nil {
			s.sendError(sess, "webrtc_attach: bridge not available")
			return
		}
		key, err := p.flowKey()
		if err != nil {
			s.sendError(sess, "webrtc_attach: "+err.Error())
			return
		}
		answer, err := s.webrtc.Attach(key, p.ViewerID, p.Offer, toBridgeICEServers(p.ICEServers))
		if err != nil {
			s.sendError(sess, "webrtc_attach: "+err.Error())
			return
		}
		data, err := encodeEnvelope("webrtc_answer", webrtcAnswerPayload{ViewerID: p.ViewerID, Answer: answer})
		if err != nil {
			log.Error("encode webrtc_answer failed", "error", err)
			return
		}
		sess.enqueue(data)

	case "webrtc_detach":
		var p webrtcDetachPayload
		if err := json.Unmarshal(env.P, &p); err != nil {
			s.sendError(sess, "webrtc_detach: malformed payload")
			return
		}
		if s.webrtc == nil {
			return
		}
		key, err := p.flowKey()
		if err != nil {
			s.sendError(sess, "webrtc_detach: "+err.Error())
			return
		}
		s.webrtc.Detach(key, p.ViewerID)

	default:
		s.sendError(sess, fmt.Sprintf("unrecognised message type %q", env.Msg))
	}
}

// flowKey parses the wire flow key fields into a flowtrack.Key.
func (p webrtcFlowKeyPayload) flowKey() (flowtrack.Key, error) {
	low, err := netip.ParseAddr(p.LowIP)
	if err != nil {
		return flowtrack.Key{}, fmt.Errorf("invalid low_ip: %w", err)
	}
	high, err := netip.ParseAddr(p.HighIP)
	if err != nil {
		return flowtrack.Key{}, fmt.Errorf("invalid high_ip: %w", err)
	}
	return flowtrack.Key{
		Ethertype: p.Ethertype,
		Protocol:  p.Protocol,
		LowIP:     low, LowPort: p.LowPort,
		HighIP: high, HighPort: p.HighPort,
	}, nil
}

func toBridgeICEServers(raw []webrtcIceServerPayload) []webrtcbridge.ICEServerConfig {
	if len(raw) == 0 {
		return nil
	}
	out := make([]webrtcbridge.ICEServerConfig, len(raw))
	for i, s := range raw {
		out[i] = webrtcbridge.ICEServerConfig{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}
	return out
}

// completeTrigger polls for the post-trigger window to elapse and then
// emits the pcap file, per spec.md §4.7's wall-deadline-polling
// requirement ("no indefinite waits").
func (s *Server) completeTrigger() {
	for !s.pcap.PostTriggerComplete(time.Now()) {
		time.Sleep(100 * time.Millisecond)
	}
	if err := os.MkdirAll(s.cfg.PcapDir, 0o755); err != nil {
		log.Error("pcap dir create failed", "error", err)
		s.broadcastEnvelope("pcap_ready", pcapReadyPayload{})
		return
	}
	result, err := s.pcap.WriteFile(s.cfg.PcapDir)
	if err != nil {
		// Report the failure rather than leaving the client waiting
		// indefinitely for a pcap_ready that never arrives, per spec.md §7
		// ("file-write failure (report via pcap_ready with file_size = 0)").
		log.Error("pcap write_file failed", "error", err)
		s.broadcastEnvelope("pcap_ready", pcapReadyPayload{})
		return
	}
	s.broadcastEnvelope("pcap_ready", pcapReadyPayload{
		FilePath:    filepath.Base(result.FilePath),
		FileSize:    result.FileSize,
		PacketCount: result.PacketCount,
		DurationSec: result.DurationSec,
	})
}

func (s *Server) sendError(sess *Session, message string) {
	data, err := encodeEnvelope("error", errorPayload{Message: message})
	if err != nil {
		log.Error("encode error message failed", "error", err)
		return
	}
	sess.enqueue(data)
}

// broadcastEnvelope publishes a configuration-class message (interval_ns
// == 0) to every connected session via Tier5, per spec.md §4.8.
func (s *Server) broadcastEnvelope(msgType string, payload any) {
	data, err := encodeEnvelope(msgType, payload)
	if err != nil {
		log.Error("encode broadcast message failed", "msg", msgType, "error", err)
		return
	}
	s.bus.PublishTier(bus.Tier5, data)
}
