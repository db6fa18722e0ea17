package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/metrics"
	"github.com/jittertrap/jittertrap/internal/rateadapt"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// defaultMaxMessageSize bounds inbound control messages when
	// Config.MaxJSONMsgLen is unset; oversized messages abort the
	// connection, per spec.md §4.9.
	defaultMaxMessageSize = 64 * 1024
	drainPeriod           = 20 * time.Millisecond
)

var sessLog = logging.L("server")

// Session is one connected WebSocket client, per spec.md §3.
type Session struct {
	id   string
	conn *websocket.Conn
	b    *bus.Bus

	writeMu sync.Mutex
	send    chan []byte
	done    chan struct{}
	closeOnce sync.Once

	tierIDs map[bus.Tier]int // subscribed tiers -> consumer id
	tierMu  sync.Mutex

	adaptor *rateadapt.Adaptor
	metrics *metrics.Registry

	viewersMu sync.Mutex
	viewers   []string // attached WebRTC viewer ids, per spec.md §3

	maxMessageSize int64

	onEnvelope func(*Session, envelope)
}

// newSession creates a Session subscribed at the rate adaptor's initial
// minimum tier through Tier5, per spec.md §4.10 and invariant 6 ("tier 5
// is always subscribed"). reg may be nil (metrics disabled). maxMsgLen <= 0
// falls back to defaultMaxMessageSize.
func newSession(id string, conn *websocket.Conn, b *bus.Bus, reg *metrics.Registry, maxMsgLen int, onEnvelope func(*Session, envelope)) *Session {
	if maxMsgLen <= 0 {
		maxMsgLen = defaultMaxMessageSize
	}
	s := &Session{
		id:             id,
		conn:           conn,
		b:              b,
		send:           make(chan []byte, 256),
		done:           make(chan struct{}),
		tierIDs:        make(map[bus.Tier]int),
		adaptor:        rateadapt.New(time.Now()),
		metrics:        reg,
		maxMessageSize: int64(maxMsgLen),
		onEnvelope:     onEnvelope,
	}
	for t := s.adaptor.MinTier(); t <= bus.Tier5; t++ {
		s.subscribeTier(t)
	}
	return s
}

func (s *Session) subscribeTier(t bus.Tier) bool {
	s.tierMu.Lock()
	defer s.tierMu.Unlock()
	if _, ok := s.tierIDs[t]; ok {
		return true
	}
	id, res := s.b.Queue(t).Subscribe()
	if res.String() != "OK" {
		return false
	}
	s.tierIDs[t] = id
	return true
}

func (s *Session) unsubscribeTier(t bus.Tier) {
	s.tierMu.Lock()
	defer s.tierMu.Unlock()
	id, ok := s.tierIDs[t]
	if !ok {
		return
	}
	s.b.Queue(t).Unsubscribe(id)
	delete(s.tierIDs, t)
}

// DrainCounters and Subscribe/Unsubscribe implement rateadapt.Subscriber.
func (s *Session) DrainCounters(t bus.Tier) (uint64, uint64, bool) {
	s.tierMu.Lock()
	id, ok := s.tierIDs[t]
	s.tierMu.Unlock()
	if !ok {
		return 0, 0, false
	}
	dropped, delivered, ok := s.b.Queue(t).DrainCounters(id)
	if ok && s.metrics != nil {
		if dropped > 0 {
			s.metrics.QueueDropped.WithLabelValues(t.String()).Add(float64(dropped))
		}
		if delivered > 0 {
			s.metrics.QueueDelivered.WithLabelValues(t.String()).Add(float64(delivered))
		}
	}
	return dropped, delivered, ok
}
func (s *Session) Unsubscribe(t bus.Tier) { s.unsubscribeTier(t) }
func (s *Session) Subscribe(t bus.Tier) bool { return s.subscribeTier(t) }

// close idempotently tears down the session's consumer subscriptions and
// signals its pumps to stop.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.tierMu.Lock()
		for t, id := range s.tierIDs {
			s.b.Queue(t).Unsubscribe(id)
		}
		s.tierIDs = map[bus.Tier]int{}
		s.tierMu.Unlock()
	})
}

// enqueue queues a pre-marshalled envelope for the write pump. Non-
// blocking: drops the message if the send buffer is full, mirroring the
// teacher's client-side drop-on-full send channel policy.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		sessLog.Warn("session send buffer full, dropping message", "session", s.id)
	}
}

// pushResolution sends a `resolution` message advertising the session's
// current minimum tier cadence, per spec.md §4.10.
func (s *Session) pushResolution(minTier bus.Tier) {
	msInterval := tierMinIntervalMs(minTier)
	payload, err := encodeEnvelope("resolution", resolutionPayload{MinIntervalMs: msInterval})
	if err != nil {
		sessLog.Error("encode resolution failed", "error", err)
		return
	}
	s.enqueue(payload)
}

// tierMinIntervalMs maps a tier to the cadence advertised in a
// `resolution` message. Mirrors bus.TierForInterval's boundary table.
func tierMinIntervalMs(t bus.Tier) int {
	switch t {
	case bus.Tier1:
		return 5
	case bus.Tier2:
		return 10
	case bus.Tier3:
		return 20
	case bus.Tier4:
		return 50
	default:
		return 1000
	}
}

// drainLoop periodically drains every subscribed tier from 5 down to the
// adaptor's current minimum, per spec.md §4.10's drain-order rule, and
// runs the rate-adaptor tick.
func (s *Session) drainLoop() {
	ticker := time.NewTicker(drainPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.drainOnce()
			if newTier, changed := s.adaptor.Tick(time.Now(), s); changed {
				s.pushResolution(newTier)
			}
		}
	}
}

func (s *Session) drainOnce() {
	min := s.adaptor.MinTier()
	for t := bus.Tier5; t >= min; t-- {
		s.tierMu.Lock()
		id, ok := s.tierIDs[t]
		s.tierMu.Unlock()
		if !ok {
			continue
		}
		for {
			var payload []byte
			res := s.b.Queue(t).Consume(id, func(p *[]byte) error { payload = *p; return nil })
			if res.String() != "OK" {
				break
			}
			s.enqueue(payload)
		}
	}
}

// writePump owns the connection's write side: outbound envelopes (chosen
// as text or deflate-binary per framing.go), and periodic pings. Adapted
// from the teacher's client-side writePump (same ticker/select shape),
// inverted for a server-accepted connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			f := chooseFrame(payload)
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(mt, f.data); err != nil {
				sessLog.Warn("write error", "session", s.id, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump owns the connection's read side. gorilla/websocket's
// ReadMessage already transparently reassembles fragmented frames into
// one complete message (spec.md §4.9's "WebSocket fragmentation is
// transparently re-assembled by the per-session buffer" is exactly
// gorilla's own frame-reassembly buffer), so no separate reassembly
// buffer is implemented here.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(s.maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sessLog.Warn("read error", "session", s.id, "error", err)
			}
			return
		}
		env, ok := decodeEnvelope(data)
		if !ok {
			sessLog.Warn("discarding malformed control message", "session", s.id, "len", len(data))
			continue
		}
		s.onEnvelope(s, env)
	}
}

// decodeEnvelope parses the tagged control envelope. Oversized or
// malformed inbound messages are discarded, per spec.md §4.9 (the size
// bound is enforced earlier by SetReadLimit, which aborts the connection;
// this handles plain malformed JSON).
func decodeEnvelope(data []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, false
	}
	return env, true
}
