// Package media owns the telephony-side media leg of a call: a UDP endpoint
// that Asterisk's externalMedia channel sends slin16 RTP to, and that plays
// AI audio back toward the caller.
package media

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"

	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/audio"
)

// Sentinel errors for the media package.
var (
	// ErrClosed indicates the bridge has been closed.
	ErrClosed = errors.New("media: bridge closed")

	// ErrNoPeer indicates no RTP has arrived yet, so the peer address for
	// outbound audio is unknown.
	ErrNoPeer = errors.New("media: peer address not yet learned")
)

// Defaults for an Asterisk externalMedia leg.
const (
	// DefaultSampleRate is slin16: 16kHz signed linear PCM.
	DefaultSampleRate = 16000

	// DefaultPayloadType is the dynamic RTP payload type Asterisk assigns
	// to slin16.
	DefaultPayloadType = 118

	// DefaultBufferFrames bounds the inbound frame buffer. At 20ms frames
	// this is about 1.3s of audio before drop-oldest kicks in.
	DefaultBufferFrames = 64

	// overrunLogInterval throttles sustained-overrun warnings.
	overrunLogInterval = 100
)

// Config holds bridge settings.
type Config struct {
	// ListenAddr is the UDP address to bind, e.g. "0.0.0.0:0".
	ListenAddr string

	// SampleRate is the telephony media sample rate in Hz.
	SampleRate int

	// PayloadType is the RTP payload type for outbound packets.
	PayloadType uint8

	// BufferFrames bounds the inbound frame buffer.
	BufferFrames int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with slin16 defaults and an ephemeral port.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "0.0.0.0:0",
		SampleRate:   DefaultSampleRate,
		PayloadType:  DefaultPayloadType,
		BufferFrames: DefaultBufferFrames,
		Logger:       slog.Default(),
	}
}

// Stats contains bridge counters for diagnostics.
type Stats struct {
	// FramesIn is the total number of caller frames received.
	FramesIn uint64 `json:"frames_in"`

	// FramesOut is the total number of frames played to the caller.
	FramesOut uint64 `json:"frames_out"`

	// Overruns is the number of inbound frames dropped because the
	// consumer could not keep up.
	Overruns uint64 `json:"overruns"`
}

// Bridge is one call's media transport endpoint. It emits inbound caller
// frames tagged with a monotonic receive sequence and sends outbound frames
// as RTP toward the peer learned from the first inbound packet.
//
// Sustained consumer overrun drops the oldest buffered frames and is
// reported as a warning, never a failure; audio continues best-effort.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	conn   *net.UDPConn
	frames chan audio.Frame

	mu      sync.Mutex
	peer    *net.UDPAddr
	started bool
	closed  bool

	// Outbound RTP state, guarded by sendMu.
	sendMu sync.Mutex
	ssrc   uint32
	outSeq uint16
	outTS  uint32

	recvSeq   atomic.Uint64
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	overruns  atomic.Uint64

	framesOnce sync.Once
}

// New binds a UDP endpoint for one call's media.
func New(cfg Config) (*Bridge, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultPayloadType
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "media.bridge"),
		conn:   conn,
		frames: make(chan audio.Frame, cfg.BufferFrames),
		ssrc:   rand.Uint32(),
	}, nil
}

// LocalPort returns the bound UDP port, for the externalMedia request.
func (b *Bridge) LocalPort() int {
	return b.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start begins reading inbound RTP. The context cancels the read loop.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Close()
	}()
	go b.readLoop()
}

// Frames returns the inbound caller audio stream. The channel is closed when
// the bridge closes.
func (b *Bridge) Frames() <-chan audio.Frame {
	return b.frames
}

// Send plays one frame to the caller as an RTP packet.
func (b *Bridge) Send(f audio.Frame) error {
	b.mu.Lock()
	peer := b.peer
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if peer == nil {
		return ErrNoPeer
	}

	b.sendMu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    b.cfg.PayloadType,
			SequenceNumber: b.outSeq,
			Timestamp:      b.outTS,
			SSRC:           b.ssrc,
		},
		Payload: samplesToPayload(f.Samples),
	}
	b.outSeq++
	b.outTS += uint32(len(f.Samples))
	b.sendMu.Unlock()

	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := b.conn.WriteToUDP(data, peer); err != nil {
		return err
	}
	b.framesOut.Add(1)
	return nil
}

// Close releases the transport. Safe to call multiple times.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	err := b.conn.Close()
	if !started {
		// No read loop to close the channel for us.
		b.framesOnce.Do(func() { close(b.frames) })
	}
	return err
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesIn:  b.framesIn.Load(),
		FramesOut: b.framesOut.Load(),
		Overruns:  b.overruns.Load(),
	}
}

func (b *Bridge) readLoop() {
	defer b.framesOnce.Do(func() { close(b.frames) })

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				b.logger.Warn("media read failed", "error", err)
			}
			return
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			b.logger.Debug("dropping malformed RTP packet", "error", err)
			continue
		}
		if len(pkt.Payload)%2 != 0 {
			continue
		}

		b.mu.Lock()
		if b.peer == nil {
			b.peer = addr
			b.logger.Info("media peer learned", "addr", addr.String())
		}
		b.mu.Unlock()

		frame := audio.Frame{
			Samples:    payloadToSamples(pkt.Payload),
			SampleRate: b.cfg.SampleRate,
			Channels:   1,
			Seq:        b.recvSeq.Add(1),
		}
		b.framesIn.Add(1)
		b.offer(frame)
	}
}

// offer queues an inbound frame, dropping the oldest buffered frame when the
// consumer cannot keep up.
func (b *Bridge) offer(f audio.Frame) {
	select {
	case b.frames <- f:
		return
	default:
	}

	// Buffer full: evict the oldest frame and retry once.
	select {
	case <-b.frames:
	default:
	}
	select {
	case b.frames <- f:
	default:
	}

	n := b.overruns.Add(1)
	if n%overrunLogInterval == 1 {
		b.logger.Warn("media buffer overrun, dropping oldest audio",
			"overruns", n,
		)
	}
}
