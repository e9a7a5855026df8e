package commands

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hitony/voicegear/pkg/audiopipe"
	"github.com/hitony/voicegear/pkg/pipe"
)

// Simulated hardware: a paced noise-source capture device, an
// energy-threshold acoustic front-end, and a passthrough PCM codec.
// Together they stand in for the vendor DSP stack so the data plane runs
// end to end on a development host.

const (
	sampleRate  = 16000
	frameLen    = 256 // per-channel samples per capture frame
	codecFrame  = 320
	vadEnergy   = 500  // mean absolute amplitude counted as speech
	wakeEnergy  = 8000 // amplitude spike counted as a wake trigger
	wakeHoldoff = 2 * time.Second
)

// simDevice produces capture frames at the real-time rate and discards
// playback.
type simDevice struct {
	seed   uint32
	played int
	mu     sync.Mutex
}

func (d *simDevice) ReadFrame(dst []int16) (int, error) {
	time.Sleep(time.Duration(frameLen) * time.Second / sampleRate)
	for i := range dst {
		// xorshift noise floor, quiet enough to stay under the VAD
		d.seed ^= d.seed << 13
		d.seed ^= d.seed >> 17
		d.seed ^= d.seed << 5
		dst[i] = int16(d.seed % 64)
	}
	return len(dst), nil
}

func (d *simDevice) WriteFrame(pcm []int16) error {
	d.mu.Lock()
	d.played += len(pcm)
	d.mu.Unlock()
	return nil
}

func (d *simDevice) playedSamples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.played
}

// simFrontend is an energy-threshold front-end: anything loud is speech,
// anything very loud is the wake word. Processed windows travel from Feed
// to Fetch through a bounded internal queue, as the real DSP's output
// stage does.
type simFrontend struct {
	wakeWord string
	out      *pipe.Queue[audiopipe.Result]

	mu         sync.Mutex
	pending    []int16
	echoCancel bool
	wakeDetect bool
	lastWake   time.Time
}

func newSimFrontend(wakeWord string) *simFrontend {
	return &simFrontend{
		wakeWord:   wakeWord,
		out:        pipe.NewQueue[audiopipe.Result](64),
		wakeDetect: true,
	}
}

func (f *simFrontend) Channels() int { return 2 }

func (f *simFrontend) Feed(pcm []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Keep the primary mic channel only.
	for i := 0; i+1 < len(pcm); i += 2 {
		f.pending = append(f.pending, pcm[i])
	}
	for len(f.pending) >= frameLen {
		window := append([]int16(nil), f.pending[:frameLen]...)
		f.pending = f.pending[:copy(f.pending, f.pending[frameLen:])]
		f.out.TryPush(f.analyze(window))
	}
	return nil
}

// analyze scores one window. Caller holds f.mu.
func (f *simFrontend) analyze(window []int16) audiopipe.Result {
	var sum, peak int64
	for _, s := range window {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
		if v > peak {
			peak = v
		}
	}
	mean := sum / int64(len(window))

	res := audiopipe.Result{PCM: window, VoiceActive: mean >= vadEnergy, Energy: int(mean)}
	if f.wakeDetect && peak >= wakeEnergy && time.Since(f.lastWake) >= wakeHoldoff {
		f.lastWake = time.Now()
		res.WakeWord = f.wakeWord
	}
	return res
}

func (f *simFrontend) Fetch() (audiopipe.Result, bool) {
	return f.out.TryPop()
}

func (f *simFrontend) SetEchoCancel(on bool) {
	f.mu.Lock()
	f.echoCancel = on
	f.mu.Unlock()
}

func (f *simFrontend) SetWakeDetect(on bool) {
	f.mu.Lock()
	f.wakeDetect = on
	f.mu.Unlock()
}

// pcmCodec passes samples through as little-endian bytes.
type pcmCodec struct{}

func (pcmCodec) FrameSize() int { return codecFrame }

func (pcmCodec) Encode(pcm []int16) ([]byte, error) {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b, nil
}

func (pcmCodec) Decode(b []byte, dst []int16) (int, error) {
	n := len(b) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return n, nil
}
