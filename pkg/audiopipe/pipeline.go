package audiopipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/spsc"
)

// fetchDrainMax bounds the front-end fetch loop per iteration so a bursty
// front-end cannot starve capture or playback.
const fetchDrainMax = 10

// playbackIdleWait is the pause after a playback underrun.
const playbackIdleWait = 5 * time.Millisecond

// Stats are the pipeline's cumulative counters.
type Stats struct {
	Underruns       uint64
	RingDrops       uint64
	ShortRecordings uint64
	EchoDisables    uint64
}

// Pipeline is the audio loop. Construct with New, then call Run in its own
// goroutine; everything else is message passing through Links.
type Pipeline struct {
	cfg   Config
	fe    Frontend
	dev   Device
	codec Codec
	arena *mempool.Arena
	links Links
	log   *slog.Logger

	mic0 *spsc.Ring[int16]
	mic1 *spsc.Ring[int16]
	ref  *spsc.Ring[int16]

	mode atomic.Int32

	underruns    atomic.Uint64
	ringDrops    atomic.Uint64
	shortRecs    atomic.Uint64
	echoDisables atomic.Uint64

	// loop-local state, touched only by Run's goroutine
	recordStart   time.Time
	lastVoice     time.Time
	voiceSeen     bool
	thinkStart    time.Time
	cooldownUntil time.Time
	zeroStreak    int
	echoCancelOn  bool
	encodeBuf     []int16
}

// New creates a Pipeline. cfg must validate.
func New(cfg Config, fe Frontend, dev Device, codec Codec, arena *mempool.Arena, links Links, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:   cfg,
		fe:    fe,
		dev:   dev,
		codec: codec,
		arena: arena,
		links: links,
		log:   log,
		mic0:  spsc.New[int16](cfg.PCMRingSize),
		mic1:  spsc.New[int16](cfg.AuxRingSize),
		ref:   spsc.New[int16](cfg.AuxRingSize),
	}, nil
}

// Mode returns the pipeline's current mode. Safe from any goroutine.
func (p *Pipeline) Mode() Mode { return Mode(p.mode.Load()) }

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Underruns:       p.underruns.Load(),
		RingDrops:       p.ringDrops.Load(),
		ShortRecordings: p.shortRecs.Load(),
		EchoDisables:    p.echoDisables.Load(),
	}
}

// Run executes the pipeline until ctx is cancelled or the device fails.
// On device failure it releases everything it owns and returns the error;
// the control loop keeps its own context running.
func (p *Pipeline) Run(ctx context.Context) error {
	capture := make([]int16, p.cfg.FrameSamples*2)
	left := make([]int16, p.cfg.FrameSamples)
	right := make([]int16, p.cfg.FrameSamples)
	feed := make([]int16, p.cfg.FrameSamples*p.fe.Channels())
	window := make([]int16, p.cfg.FrameSamples)
	aux := make([]int16, p.cfg.FrameSamples)
	refWin := make([]int16, p.cfg.FrameSamples)
	decode := make([]int16, 4096)
	p.encodeBuf = p.encodeBuf[:0]

	defer func() {
		p.links.Playback.Flush()
		p.encodeBuf = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		p.applyCommands()

		if p.Mode() == ModePlaying {
			p.playOne(decode)
		}

		n, err := p.dev.ReadFrame(capture)
		if err != nil {
			return fmt.Errorf("audiopipe: capture device: %w", err)
		}
		p.splitCapture(capture[:n], left, right)

		if p.mic0.Available() >= p.cfg.FrameSamples {
			p.feedFrontend(feed, window, aux, refWin)
		}

		for i := 0; i < fetchDrainMax; i++ {
			res, ok := p.fe.Fetch()
			if !ok {
				break
			}
			p.handleFetch(res)
		}

		p.checkTimers()
	}
}

// applyCommands drains the command queue and performs mode transitions.
func (p *Pipeline) applyCommands() {
	p.links.Commands.Drain(0, func(cmd Command) {
		p.log.Debug("pipeline command", "cmd", cmd.String(), "mode", p.Mode().String())
		switch cmd {
		case CmdStartRecording:
			p.mode.Store(int32(ModeRecording))
			p.recordStart = time.Now()
			p.lastVoice = p.recordStart
			p.voiceSeen = false
			p.encodeBuf = p.encodeBuf[:0]
			// Both ring sides run on this goroutine, so Reset is safe.
			// Stale pre-wake samples must not lead the utterance.
			p.mic0.Reset()
			p.mic1.Reset()
			p.fe.SetWakeDetect(false)

		case CmdStopRecording:
			if p.Mode() == ModeRecording {
				p.enterThinking()
			}

		case CmdStartPlayback:
			p.mode.Store(int32(ModePlaying))
			p.encodeBuf = p.encodeBuf[:0]
			p.ref.Reset()
			p.echoCancelOn = true
			p.fe.SetEchoCancel(true)
			p.fe.SetWakeDetect(true)
			p.zeroStreak = 0
			p.cooldownUntil = time.Now().Add(p.cfg.WakeCooldown)

		case CmdStopPlayback:
			if p.Mode() == ModePlaying {
				p.mode.Store(int32(ModeIdle))
				p.echoCancelOn = false
				p.fe.SetEchoCancel(false)
				p.links.Playback.Flush()
				// Drop the echo-contaminated tail so it cannot leak into
				// the next utterance.
				p.ref.Reset()
				p.mic1.Reset()
			}
		}
	})
}

// playOne decodes and plays at most one packet, tracking underruns.
func (p *Pipeline) playOne(decode []int16) {
	pkt, ok := p.links.Playback.Pop(p.cfg.PlaybackWait)
	if !ok {
		p.underruns.Add(1)
		time.Sleep(playbackIdleWait)
		return
	}
	n, err := p.codec.Decode(pkt.Bytes(), decode)
	pkt.Release()
	if err != nil {
		p.log.Warn("playback decode failed", "err", err)
		return
	}
	if err := p.dev.WriteFrame(decode[:n]); err != nil {
		p.log.Warn("playback write failed", "err", err)
		return
	}
	// What the speaker just played is the echo canceller's reference.
	p.ref.Write(decode[:n])
}

// splitCapture deinterleaves one stereo capture frame into the mic rings,
// counting samples lost to full rings.
func (p *Pipeline) splitCapture(frame, left, right []int16) {
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		left[i] = frame[2*i]
		right[i] = frame[2*i+1]
	}
	if w := p.mic0.Write(left[:n]); w < n {
		p.ringDrops.Add(uint64(n - w))
	}
	if w := p.mic1.Write(right[:n]); w < n {
		p.ringDrops.Add(uint64(n - w))
	}
}

// feedFrontend assembles one interleaved front-end frame from the rings.
// Short reads of the secondary channels are zero-filled so the layout the
// canceller sees never shifts.
func (p *Pipeline) feedFrontend(feed, window, aux, refWin []int16) {
	p.mic0.Read(window)
	zeroFill(aux, p.mic1.Read(aux))

	ch := p.fe.Channels()
	switch ch {
	case 3:
		zeroFill(refWin, p.ref.Read(refWin))
		for i := range window {
			feed[3*i] = window[i]
			feed[3*i+1] = aux[i]
			feed[3*i+2] = refWin[i]
		}
	default:
		for i := range window {
			feed[2*i] = window[i]
			feed[2*i+1] = aux[i]
		}
	}

	if err := p.fe.Feed(feed[:len(window)*ch]); err != nil {
		p.log.Warn("front-end feed failed", "err", err)
	}
}

func zeroFill(buf []int16, from int) {
	for i := from; i < len(buf); i++ {
		buf[i] = 0
	}
}

// handleFetch consumes one front-end result: detector dispatch plus, while
// recording, accumulation toward the codec frame size.
func (p *Pipeline) handleFetch(res Result) {
	now := time.Now()

	if res.WakeWord != "" {
		mode := p.Mode()
		if (mode == ModeIdle || mode == ModePlaying) && now.After(p.cooldownUntil) {
			p.log.Info("wake word detected", "word", res.WakeWord, "mode", mode.String())
			p.links.Events.Set(EventWake)
		}
	}

	if p.Mode() == ModePlaying && p.echoCancelOn && len(res.PCM) > 0 {
		if allZero(res.PCM) {
			p.zeroStreak++
			if p.zeroStreak >= p.cfg.ZeroStreakLimit {
				p.log.Warn("echo canceller producing silence, disabling", "streak", p.zeroStreak)
				p.echoCancelOn = false
				p.fe.SetEchoCancel(false)
				p.echoDisables.Add(1)
				p.zeroStreak = 0
			}
		} else {
			p.zeroStreak = 0
		}
	}

	if p.Mode() != ModeRecording {
		return
	}

	if res.VoiceActive {
		p.lastVoice = now
		p.voiceSeen = true
	}
	if len(res.PCM) == 0 {
		return
	}

	for _, s := range res.PCM {
		p.encodeBuf = append(p.encodeBuf, applyGain(s, p.cfg.Gain))
	}
	frame := p.codec.FrameSize()
	for len(p.encodeBuf) >= frame {
		p.encodeOne(p.encodeBuf[:frame])
		p.encodeBuf = p.encodeBuf[:copy(p.encodeBuf, p.encodeBuf[frame:])]
	}
}

// encodeOne encodes one codec frame and queues it outbound.
func (p *Pipeline) encodeOne(pcm []int16) {
	b, err := p.codec.Encode(pcm)
	if err != nil {
		p.log.Warn("encode failed", "err", err)
		return
	}
	pkt, err := media.PacketFrom(p.arena, b)
	if err != nil {
		p.log.Warn("encoded packet dropped, pool exhausted", "size", len(b), "err", err)
		return
	}
	if p.links.Encoded.TryPush(pkt) {
		p.links.Events.Set(EventEncodeReady)
	}
}

// checkTimers enforces the recording and thinking duration limits.
func (p *Pipeline) checkTimers() {
	now := time.Now()
	switch p.Mode() {
	case ModeRecording:
		elapsed := now.Sub(p.recordStart)
		if elapsed >= p.cfg.MaxRecording {
			p.log.Info("recording hit hard limit", "elapsed", elapsed)
			p.links.Events.Set(EventRecordingFull)
			p.enterThinking()
			return
		}
		if p.voiceSeen && now.Sub(p.lastVoice) >= p.cfg.SilenceHold {
			if elapsed < p.cfg.MinRecording {
				p.log.Debug("recording too short, discarding", "elapsed", elapsed)
				p.shortRecs.Add(1)
				p.encodeBuf = p.encodeBuf[:0]
				p.mode.Store(int32(ModeIdle))
				p.fe.SetWakeDetect(true)
				return
			}
			p.log.Info("utterance ended on silence", "elapsed", elapsed)
			p.links.Events.Set(EventVoiceEnd)
			p.enterThinking()
		}

	case ModeThinking:
		if now.Sub(p.thinkStart) >= p.cfg.ThinkingTimeout {
			p.log.Warn("response wait timed out")
			p.mode.Store(int32(ModeIdle))
			p.fe.SetWakeDetect(true)
		}
	}
}

func (p *Pipeline) enterThinking() {
	p.mode.Store(int32(ModeThinking))
	p.thinkStart = time.Now()
	p.encodeBuf = p.encodeBuf[:0]
	p.fe.SetWakeDetect(true)
}

func applyGain(s int16, gain float32) int16 {
	v := float32(s) * gain
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func allZero(pcm []int16) bool {
	for _, s := range pcm {
		if s != 0 {
			return false
		}
	}
	return true
}
