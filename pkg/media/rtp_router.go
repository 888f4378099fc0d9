package media

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const (
	statsInterval   = 5 * time.Second
	rtpPayloadPCMU  = 0
	samplesPerFrame = 160 // 20ms at 8kHz
)

// RTPRouter is the default AudioRouter: one UDP/RTP stream per party,
// incoming payloads delivered to the device sink, outgoing frames written
// only while the stream's output is active.
type RTPRouter struct {
	sink DeviceSink

	mu      sync.Mutex
	streams map[string]*rtpStream
}

type rtpStream struct {
	party     string
	conn      *net.UDPConn
	remote    *net.UDPAddr
	statsFn   StatsFunc
	ssrc      uint32
	seq       uint16
	ts        uint32
	activeIn  bool
	activeOut bool
	stats     Stats
	done      chan struct{}
}

// NewRTPRouter creates a router delivering incoming audio to sink.
func NewRTPRouter(sink DeviceSink) *RTPRouter {
	return &RTPRouter{
		sink:    sink,
		streams: make(map[string]*rtpStream),
	}
}

func (r *RTPRouter) StartRTP(party string, local, remote Endpoint, stats StatsFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[party]; exists {
		return fmt.Errorf("media: stream already started for %s", party)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(local.Addr), Port: local.Port})
	if err != nil {
		return fmt.Errorf("media: bind %s: %w", local, err)
	}

	var remoteAddr *net.UDPAddr
	if !remote.IsZero() {
		remoteAddr, err = net.ResolveUDPAddr("udp", remote.String())
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("media: resolve %s: %w", remote, err)
		}
	}

	stream := &rtpStream{
		party:    party,
		conn:     conn,
		remote:   remoteAddr,
		statsFn:  stats,
		ssrc:     rand.Uint32(),
		activeIn: true,
		done:     make(chan struct{}),
	}
	r.streams[party] = stream

	go r.readLoop(stream)
	if stats != nil {
		go r.statsLoop(stream)
	}

	logger.Info("rtp stream started",
		zap.String("party", party),
		zap.String("local", local.String()),
		zap.String("remote", remote.String()))
	return nil
}

func (r *RTPRouter) readLoop(s *rtpStream) {
	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.Warn("rtp read failed", zap.String("party", s.party), zap.Error(err))
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		r.mu.Lock()
		s.stats.PacketsIn++
		s.stats.BytesIn += uint64(n)
		active := s.activeIn
		r.mu.Unlock()

		if active && r.sink != nil {
			r.sink.PlayFrame(s.party, pkt.Payload)
		}
	}
}

func (r *RTPRouter) statsLoop(s *rtpStream) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			sample := s.stats
			r.mu.Unlock()
			s.statsFn(s.party, sample)
		}
	}
}

// WriteFrame sends one outgoing audio payload on the party's stream. Frames
// are dropped silently while the stream's output is inactive or the remote
// endpoint is unknown.
func (r *RTPRouter) WriteFrame(party string, payload []byte) error {
	r.mu.Lock()
	s, ok := r.streams[party]
	if !ok || !s.activeOut || s.remote == nil {
		r.mu.Unlock()
		return nil
	}
	s.seq++
	s.ts += samplesPerFrame
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadPCMU,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	r.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	n, err := s.conn.WriteToUDP(raw, s.remote)
	if err != nil {
		return err
	}

	r.mu.Lock()
	s.stats.PacketsOut++
	s.stats.BytesOut += uint64(n)
	r.mu.Unlock()
	return nil
}

func (r *RTPRouter) StopRTP(party string) {
	r.mu.Lock()
	s, ok := r.streams[party]
	if ok {
		delete(r.streams, party)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	close(s.done)
	_ = s.conn.Close()
	logger.Info("rtp stream stopped", zap.String("party", party))
}

func (r *RTPRouter) SetActiveIn(party string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[party]; ok {
		s.activeIn = enabled
	}
}

func (r *RTPRouter) SetActiveOut(party string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[party]; ok {
		s.activeOut = enabled
	}
}

func (r *RTPRouter) HasActiveAudio() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams) > 0
}
