package conversation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitony/voicegear/pkg/audiopipe"
	"github.com/hitony/voicegear/pkg/gateway"
	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/pipe"
)

// transportPumpMax bounds raw messages handled per iteration.
const transportPumpMax = 10

// encodedForwardMax bounds encoded packets sent upstream per iteration.
const encodedForwardMax = 4

// Links are the loop's connections to the rest of the system.
type Links struct {
	// Raw is the transport-raw queue fed by the gateway read pump.
	Raw *pipe.Queue[gateway.RawMsg]
	// Playback feeds decoded-side packets to the audio pipeline.
	Playback *pipe.Queue[media.Packet]
	// Encoded carries the pipeline's encoded capture packets.
	Encoded *pipe.Queue[media.Packet]
	// Commands carries pipeline commands.
	Commands *pipe.Queue[audiopipe.Command]
	// Events is the shared event flag set.
	Events *pipe.Flags
}

// Loop is the conversation state machine. All mutable state lives on the
// Run goroutine; Snapshot is the only cross-goroutine view.
type Loop struct {
	cfg   Config
	gw    Gateway
	arena *mempool.Arena
	links Links
	gate  UpdateGate
	hooks Hooks
	log   *slog.Logger

	snap atomic.Pointer[Session]

	state      State
	sessionID  string
	stateSince time.Time

	thinkingSince   time.Time // nonzero while waiting for the server's reaction
	lastData        time.Time // last admitted playback payload
	draining        bool
	emptyPolls      int
	musicWasPlaying bool
	musicFlagAt     time.Time

	retries    int
	nextDial   time.Time
	reconnects uint64
	binDropped uint64
}

// New creates a Loop. gate may be nil when no updater exists.
func New(cfg Config, gw Gateway, arena *mempool.Arena, links Links, gate UpdateGate, hooks Hooks, log *slog.Logger) *Loop {
	l := &Loop{
		cfg:   cfg,
		gw:    gw,
		arena: arena,
		links: links,
		gate:  gate,
		hooks: hooks,
		log:   log,
		state: StateError, // start disconnected; first dial brings us up
	}
	l.stateSince = time.Now()
	l.publish()
	return l
}

// Snapshot returns the latest published session view.
func (l *Loop) Snapshot() *Session { return l.snap.Load() }

// Run executes the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			l.gw.Close()
			return nil
		}
		l.pumpTransport()
		l.pumpAudioEvents()
		l.forwardEncoded()
		l.tick(ctx, time.Now())
	}
}

func (l *Loop) publish() {
	l.snap.Store(&Session{
		State:      l.state,
		ID:         l.sessionID,
		Since:      l.stateSince,
		Reconnects: l.reconnects,
		BinDropped: l.binDropped,
	})
}

func (l *Loop) setState(s State) {
	if s == l.state {
		return
	}
	l.log.Info("conversation state", "from", l.state.String(), "to", s.String())
	l.state = s
	l.stateSince = time.Now()
	l.publish()
}

// pumpTransport handles a bounded batch of raw transport messages. The
// first pop waits PollInterval so an idle loop doesn't spin.
func (l *Loop) pumpTransport() {
	for i := 0; i < transportPumpMax; i++ {
		var msg gateway.RawMsg
		var ok bool
		if i == 0 {
			msg, ok = l.links.Raw.Pop(l.cfg.PollInterval)
		} else {
			msg, ok = l.links.Raw.TryPop()
		}
		if !ok {
			return
		}
		l.handleRaw(msg)
	}
}

func (l *Loop) handleRaw(msg gateway.RawMsg) {
	switch msg.Kind {
	case gateway.RawConnected:
		l.onConnected()

	case gateway.RawDisconnected:
		l.onDisconnected()

	case gateway.RawText:
		ctrl, err := gateway.ParseMessage(msg.Pkt.Bytes())
		msg.Release()
		if err != nil {
			l.log.Warn("bad control message", "err", err)
			return
		}
		l.handleControl(ctrl)

	case gateway.RawBinary:
		if l.state != StateSpeaking && l.state != StateMusic {
			// Late audio after a barge-in or abort: not ours anymore.
			l.binDropped++
			msg.Release()
			return
		}
		l.lastData = time.Now()
		gateway.DecodeBatch(l.arena, l.links.Playback, msg.Pkt.Bytes(), l.log)
		msg.Release()
	}
}

// pumpAudioEvents consumes the pipeline's event flags.
func (l *Loop) pumpAudioEvents() {
	bits := l.links.Events.TakeAll()
	if bits == 0 {
		return
	}
	if bits&(audiopipe.EventWake|audiopipe.EventTouchWake) != 0 {
		l.onWake()
	}
	if bits&(audiopipe.EventVoiceEnd|audiopipe.EventRecordingFull) != 0 {
		l.onUtteranceDone()
	}
	// EventEncodeReady is only a scheduling hint; forwardEncoded drains
	// the queue every iteration regardless.
}

// forwardEncoded sends a bounded batch of encoded capture packets upstream.
func (l *Loop) forwardEncoded() {
	if l.state != StateRecording {
		return
	}
	l.links.Encoded.Drain(encodedForwardMax, func(pkt media.Packet) {
		if err := l.gw.SendBinary(pkt.Bytes()); err != nil {
			l.log.Warn("encoded upload failed", "err", err)
		}
		pkt.Release()
	})
}

func (l *Loop) onConnected() {
	l.log.Info("session transport connected")
	l.retries = 0
	l.reconnects++
	if l.state == StateError {
		l.setState(StateIdle)
	}
	if err := l.gw.SendJSON(gateway.NewHello(l.cfg.DeviceID, l.cfg.Firmware)); err != nil {
		l.log.Warn("hello failed", "err", err)
	}
	l.publish()
}

func (l *Loop) onDisconnected() {
	if l.gate != nil && l.gate.UpdateInProgress() {
		l.log.Info("link dropped during firmware update, not reconnecting")
		return
	}
	l.abortActivity("link lost")
	l.enterError()
}

func (l *Loop) enterError() {
	l.setState(StateError)
	l.nextDial = time.Now().Add(l.reconnectDelay())
}

// reconnectDelay is base·2^retries capped at ReconnectCap.
func (l *Loop) reconnectDelay() time.Duration {
	d := l.cfg.ReconnectBase
	for i := 0; i < l.retries; i++ {
		d *= 2
		if d >= l.cfg.ReconnectCap {
			return l.cfg.ReconnectCap
		}
	}
	if d > l.cfg.ReconnectCap {
		d = l.cfg.ReconnectCap
	}
	return d
}

// abortActivity stops whatever the audio pipeline is doing and clears
// response bookkeeping. Safe to call from any state.
func (l *Loop) abortActivity(reason string) {
	switch l.state {
	case StateRecording:
		l.links.Commands.TryPush(audiopipe.CmdStopRecording)
	case StateSpeaking, StateMusic:
		l.links.Playback.Flush()
		l.links.Commands.TryPush(audiopipe.CmdStopPlayback)
	}
	l.draining = false
	l.emptyPolls = 0
	l.thinkingSince = time.Time{}
	if reason != "" {
		l.log.Info("activity aborted", "reason", reason, "state", l.state.String())
	}
}

// onWake starts a recording, barging in on any playback in progress.
func (l *Loop) onWake() {
	switch l.state {
	case StateIdle:
		l.startRecording(gateway.ListenDetect)

	case StateSpeaking, StateMusic:
		if l.state == StateMusic {
			l.musicWasPlaying = true
			l.musicFlagAt = time.Now()
		}
		if err := l.gw.SendJSON(gateway.NewAbort("barge-in")); err != nil {
			l.log.Warn("abort send failed", "err", err)
		}
		l.links.Playback.Flush()
		l.links.Commands.TryPush(audiopipe.CmdStopPlayback)
		l.draining = false
		l.startRecording(gateway.ListenDetect)
	}
}

func (l *Loop) startRecording(reason string) {
	if reason == gateway.ListenDetect {
		l.gw.SendJSON(gateway.NewListen(gateway.ListenDetect))
	}
	if err := l.gw.SendJSON(gateway.NewListen(gateway.ListenStart)); err != nil {
		l.log.Warn("listen start failed", "err", err)
	}
	l.links.Commands.TryPush(audiopipe.CmdStartRecording)
	l.thinkingSince = time.Time{}
	l.setState(StateRecording)
}

// onUtteranceDone ends the capture side and starts the response wait.
func (l *Loop) onUtteranceDone() {
	if l.state != StateRecording {
		return
	}
	if err := l.gw.SendJSON(gateway.NewListen(gateway.ListenStop)); err != nil {
		l.log.Warn("listen stop failed", "err", err)
	}
	l.links.Commands.TryPush(audiopipe.CmdStopRecording)
	l.thinkingSince = time.Now()
	l.setState(StateIdle)
}

func (l *Loop) handleControl(msg gateway.Message) {
	switch m := msg.(type) {
	case *gateway.Hello:
		if m.SessionID != "" {
			l.sessionID = m.SessionID
		} else {
			l.sessionID = uuid.NewString()
		}
		l.log.Info("session established", "session", l.sessionID)
		l.publish()

	case *gateway.TTS:
		switch m.State {
		case gateway.TTSStart:
			l.onPlaybackStart(StateSpeaking)
		case gateway.TTSStop:
			l.beginDrain()
		}

	case *gateway.Music:
		switch m.State {
		case gateway.MusicStart:
			// A fresh track invalidates whatever the previous one queued.
			l.links.Events.TakeAll()
			l.musicWasPlaying = false
			l.onPlaybackStart(StateMusic)
		case gateway.MusicResume:
			l.musicWasPlaying = false
			l.onPlaybackStart(StateMusic)
		case gateway.MusicStop:
			if l.state == StateMusic {
				l.beginDrain()
			}
			l.musicWasPlaying = false
		}

	case *gateway.ASRText:
		l.log.Info("transcript", "text", m.Text)
		if l.hooks.Transcript != nil {
			l.hooks.Transcript(m.Text)
		}

	case *gateway.Expression:
		if l.hooks.Expression != nil {
			l.hooks.Expression(m.Expr, time.Duration(m.DurationMS)*time.Millisecond)
		}

	case *gateway.OTANotify:
		l.log.Info("firmware update available", "version", m.Version)
		if l.hooks.OTA != nil {
			l.hooks.OTA(m.Version, m.URL)
		}

	case *gateway.ServerError:
		l.log.Warn("server error", "code", m.Code, "message", m.Message)
		l.abortActivity("server error")
		if l.state != StateError {
			l.setState(StateIdle)
		}

	case *gateway.Abort:
		l.abortActivity("server abort")
		if l.state != StateError {
			l.setState(StateIdle)
		}

	case *gateway.Ping:
		l.gw.SendJSON(&gateway.Pong{Type: "pong"})
	}
}

// onPlaybackStart moves into a playback state, cleanly preempting an
// in-flight recording first.
func (l *Loop) onPlaybackStart(next State) {
	if l.state == StateRecording {
		l.links.Commands.TryPush(audiopipe.CmdStopRecording)
	}
	if l.state == StateMusic && next == StateSpeaking {
		// Speech interrupting music: remember to ask for a resume.
		l.musicWasPlaying = true
		l.musicFlagAt = time.Now()
	}
	l.thinkingSince = time.Time{}
	l.draining = false
	l.emptyPolls = 0
	l.lastData = time.Now()
	l.links.Commands.TryPush(audiopipe.CmdStartPlayback)
	l.setState(next)
}

// beginDrain arms the drain-to-empty debounce: the state holds until the
// playback queue stays empty for DrainPolls consecutive polls, so queued
// audio finishes playing before the stop command goes out.
func (l *Loop) beginDrain() {
	if l.state != StateSpeaking && l.state != StateMusic {
		return
	}
	l.draining = true
	l.emptyPolls = 0
}

// tick runs the time-driven work: drain debounce, watchdogs, music flag
// cleanup, and reconnection.
func (l *Loop) tick(ctx context.Context, now time.Time) {
	if l.draining {
		if l.links.Playback.Len() == 0 {
			l.emptyPolls++
		} else {
			l.emptyPolls = 0
		}
		if l.emptyPolls >= l.cfg.DrainPolls {
			l.draining = false
			l.links.Commands.TryPush(audiopipe.CmdStopPlayback)
			l.setState(StateIdle)
			if l.musicWasPlaying {
				l.musicWasPlaying = false
				if err := l.gw.SendJSON(gateway.NewMusicCtrl("resume")); err != nil {
					l.log.Warn("music resume request failed", "err", err)
				}
			}
		}
	}

	switch l.state {
	case StateRecording:
		if now.Sub(l.stateSince) >= l.cfg.RecordingWatchdog {
			l.log.Warn("recording watchdog fired")
			l.onUtteranceDone()
		}

	case StateSpeaking, StateMusic:
		if !l.draining && now.Sub(l.lastData) >= l.cfg.SpeakingWatchdog {
			l.log.Warn("response stalled, aborting", "state", l.state.String())
			l.gw.SendJSON(gateway.NewAbort("no data"))
			l.abortActivity("")
			l.setState(StateIdle)
		}

	case StateIdle:
		if !l.thinkingSince.IsZero() && now.Sub(l.thinkingSince) >= l.cfg.ThinkingWatchdog {
			l.log.Warn("no response to utterance, aborting")
			l.gw.SendJSON(gateway.NewAbort("timeout"))
			l.thinkingSince = time.Time{}
		}
		// Safety net: a dead link discovered outside the disconnect path.
		if !l.gw.Connected() {
			l.enterError()
		}

	case StateError:
		if now.After(l.nextDial) {
			if err := l.gw.Dial(ctx); err != nil {
				l.retries++
				l.nextDial = now.Add(l.reconnectDelay())
				l.log.Warn("reconnect failed", "attempt", l.retries, "next_in", l.reconnectDelay())
			} else {
				// Success surfaces as a RawConnected message from the
				// pump; redial after the base delay if it never does.
				l.nextDial = now.Add(l.cfg.ReconnectBase)
			}
		}
	}

	if l.musicWasPlaying && now.Sub(l.musicFlagAt) >= l.cfg.MusicFlagTTL {
		l.musicWasPlaying = false
	}
}
