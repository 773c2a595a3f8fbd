package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/aistream"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/ari"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/audio"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/media"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/ops"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/session"
)

const (
	telephonyRate = 16000
	aiRate        = 24000

	teardownTimeout = 5 * time.Second
)

// callDirector wires ARI call events to sessions: StasisStart brings a call
// up, StasisEnd and ChannelDestroyed tear it down.
type callDirector struct {
	ari      *ari.Client
	registry *session.Registry
	hub      *ops.Hub
	metrics  *ops.Metrics
	logger   *slog.Logger

	mediaHost    string
	idleTimeout  time.Duration
	apiKey       string
	systemPrompt string
}

// run consumes the ARI event stream until it closes.
func (d *callDirector) run(ctx context.Context, stream *ari.EventStream) {
	for ev := range stream.Events() {
		switch ev.Type {
		case ari.EventStasisStart:
			d.startCall(ctx, ev.Channel)
		case ari.EventStasisEnd, ari.EventChannelDestroyed:
			d.endCall(ev.Channel)
		}
	}
}

// isMediaLeg reports whether a channel is an externalMedia leg the director
// itself originated. Those enter the Stasis app too and must not start a
// second session.
func isMediaLeg(ch ari.Channel) bool {
	return strings.HasPrefix(ch.Name, "UnicastRTP")
}

func (d *callDirector) startCall(ctx context.Context, ch ari.Channel) {
	if isMediaLeg(ch) {
		return
	}
	logger := d.logger.With("call_id", ch.ID, "caller", ch.Caller.Number)
	logger.Info("call entered application")

	mb, err := media.New(media.Config{
		ListenAddr: "0.0.0.0:0",
		SampleRate: telephonyRate,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to bind media endpoint", "error", err)
		d.metrics.CallsFailed.Add(1)
		return
	}

	connector, err := aistream.NewOpenAI(
		aistream.WithAPIKey(d.apiKey),
		aistream.WithSystemPrompt(d.systemPrompt),
		aistream.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to build ai connector", "error", err)
		mb.Close()
		d.metrics.CallsFailed.Add(1)
		return
	}

	cfg := session.DefaultConfig()
	cfg.IdleTimeout = d.idleTimeout
	cfg.Logger = logger

	sess, err := d.registry.Create(ch.ID, func() (*session.Session, error) {
		return session.New(ch.ID, mb, connector, audio.NewTranscoder(telephonyRate, aiRate), cfg), nil
	})
	if err != nil {
		// Duplicate StasisStart: the original session is untouched.
		logger.Error("rejecting call", "error", err)
		mb.Close()
		connector.Close()
		return
	}

	sess.OnStateChange = func(id string, from, to session.State) {
		d.hub.Publish(ops.StateChanged(id, from, to))
	}
	sess.OnTurn = func(id string, t session.Turn) {
		d.metrics.TurnsTotal.Add(1)
		if t.Interrupted {
			d.metrics.BargeIns.Add(1)
		}
		d.hub.Publish(ops.TurnRecorded(id, t))
	}

	go d.bringUp(ctx, ch, mb, connector, sess)
}

// bringUp performs the per-call I/O off the event loop so one slow call
// cannot delay another entering the application.
func (d *callDirector) bringUp(ctx context.Context, ch ari.Channel, mb *media.Bridge, connector *aistream.OpenAI, sess *session.Session) {
	logger := d.logger.With("call_id", ch.ID)

	fail := func(stage string, err error) {
		logger.Error("call setup failed", "stage", stage, "error", err)
		d.metrics.CallsFailed.Add(1)
		d.registry.Remove(ch.ID, err)
		d.hangupQuietly(ch.ID)
	}

	if err := connector.Connect(ctx); err != nil {
		fail("ai connect", err)
		return
	}
	if err := d.ari.Answer(ctx, ch.ID); err != nil {
		fail("answer", err)
		return
	}

	host := net.JoinHostPort(d.mediaHost, strconv.Itoa(mb.LocalPort()))
	mediaCh, err := d.ari.CreateExternalMedia(ctx, host)
	if err != nil {
		fail("external media", err)
		return
	}
	mix, err := d.ari.CreateBridge(ctx)
	if err != nil {
		fail("mixing bridge", err)
		return
	}
	if err := d.ari.AddChannel(ctx, mix.ID, ch.ID); err != nil {
		fail("join caller", err)
		return
	}
	if err := d.ari.AddChannel(ctx, mix.ID, mediaCh.ID); err != nil {
		fail("join media", err)
		return
	}

	mb.Start(ctx)
	go sess.Run(ctx)

	d.metrics.CallsTotal.Add(1)
	d.hub.Publish(ops.CallStarted(ch.ID))
	logger.Info("call bridged", "media_port", mb.LocalPort())

	<-sess.Done()
	if err := sess.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrIdleTimeout) {
		d.metrics.CallsFailed.Add(1)
	}
	d.tearDown(ch.ID, mediaCh.ID, mix.ID, mb)
}

// tearDown releases the Asterisk-side resources after the session has
// closed its own.
func (d *callDirector) tearDown(callID, mediaChID, mixID string, mb *media.Bridge) {
	d.registry.Remove(callID, nil)

	stats := mb.Stats()
	d.metrics.FramesIn.Add(stats.FramesIn)
	d.metrics.FramesOut.Add(stats.FramesOut)
	d.metrics.Overruns.Add(stats.Overruns)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := d.ari.DestroyBridge(ctx, mixID); err != nil && !ari.IsNotFound(err) {
		d.logger.Warn("failed to destroy mixing bridge", "bridge_id", mixID, "error", err)
	}
	if err := d.ari.Hangup(ctx, mediaChID); err != nil && !ari.IsNotFound(err) {
		d.logger.Warn("failed to hang up media leg", "channel_id", mediaChID, "error", err)
	}
	d.hangupQuietly(callID)

	d.hub.Publish(ops.CallEnded(callID))
	d.logger.Info("call released", "call_id", callID,
		"frames_in", stats.FramesIn, "frames_out", stats.FramesOut)
}

func (d *callDirector) endCall(ch ari.Channel) {
	if isMediaLeg(ch) {
		return
	}
	d.registry.Remove(ch.ID, nil)
}

// hangupQuietly hangs up a channel that may already be gone.
func (d *callDirector) hangupQuietly(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := d.ari.Hangup(ctx, channelID); err != nil && !ari.IsNotFound(err) {
		d.logger.Warn("hangup failed", "channel_id", channelID, "error", err)
	}
}
