package mixer

import (
	"errors"
	"math"
	"testing"
	"time"
)

// fakeSink records every frame the mixer writes and enforces the output
// frame size invariant.
type fakeSink struct {
	t      *testing.T
	frames [][]int16
	err    error
}

func (f *fakeSink) Write(frame []int16) error {
	if len(frame) != OutputShorts {
		f.t.Fatalf("sink write: got %d shorts, want %d", len(frame), OutputShorts)
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
	return f.err
}

func newTestMixer(t *testing.T, cfg Config) (*Mixer, *fakeSink) {
	t.Helper()
	sink := &fakeSink{t: t}
	return New(sink, cfg), sink
}

// enqueueConst queues n frames of size samples, every sample set to value.
func enqueueConst(ch *Channel, n, samples int, value int16) {
	for i := 0; i < n; i++ {
		frame := make([]int16, samples)
		for j := range frame {
			frame[j] = value
		}
		ch.Enqueue(frame)
	}
}

func TestGateHoldsUntilDepth(t *testing.T) {
	m, sink := newTestMixer(t, Config{})
	ch, err := m.Add("a", nil, 1.0, PanCenter)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	enqueueConst(ch, DefaultGateFrames-1, FrameSamples, 1000)
	if m.cycle() {
		t.Fatal("cycle produced output below the gate depth")
	}
	if len(sink.frames) != 0 {
		t.Fatalf("sink received %d frames before the gate opened", len(sink.frames))
	}

	enqueueConst(ch, 1, FrameSamples, 1000)
	if !m.cycle() {
		t.Fatal("cycle produced no output at the gate depth")
	}
	if len(sink.frames) != 1 {
		t.Fatalf("sink frames: got %d, want 1", len(sink.frames))
	}
	if !ch.Stats().GateOpen {
		t.Error("gate should be open")
	}
}

func TestGateStaysOpen(t *testing.T) {
	m, sink := newTestMixer(t, Config{})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)

	// Open the gate and play everything out, through the underflow.
	enqueueConst(ch, DefaultGateFrames, FrameSamples, 1000)
	for i := 0; i < DefaultGateFrames+1; i++ {
		m.cycle()
	}
	if got := ch.Stats().Underflows; got != 1 {
		t.Fatalf("underflows: got %d, want 1", got)
	}

	// A single queued frame — far below the gate depth — must play
	// immediately: the gate never re-closes.
	before := len(sink.frames)
	enqueueConst(ch, 1, FrameSamples, 2000)
	if !m.cycle() {
		t.Fatal("open-gated channel with one queued frame did not contribute")
	}
	if len(sink.frames) != before+1 {
		t.Fatalf("sink frames: got %d, want %d", len(sink.frames), before+1)
	}
}

// TestSteadyTone plays five 1920-sample frames of constant 1000 through a
// centered channel and checks both stereo slots carry the tone.
func TestSteadyTone(t *testing.T) {
	m, sink := newTestMixer(t, Config{})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)
	enqueueConst(ch, 5, FrameSamples, 1000)

	for i := 0; i < 5; i++ {
		if !m.cycle() {
			t.Fatalf("cycle %d produced no output", i)
		}
	}
	if len(sink.frames) != 5 {
		t.Fatalf("sink frames: got %d, want 5", len(sink.frames))
	}

	for f, frame := range sink.frames {
		// The first frame opens with the gap fade-in; skip the ramp.
		start := 0
		if f == 0 {
			start = DefaultFadeSamples
		}
		for i := start; i < FrameSamples; i++ {
			if frame[2*i] != 1000 || frame[2*i+1] != 1000 {
				t.Fatalf("frame %d sample %d: got (%d, %d), want (1000, 1000)",
					f, i, frame[2*i], frame[2*i+1])
			}
		}
	}

	// Frame 0's fade-in ramps linearly from silence.
	first := sink.frames[0]
	if first[0] != 0 {
		t.Errorf("fade-in sample 0: got %d, want 0", first[0])
	}
	mid := int16(1000 * (DefaultFadeSamples / 2) / DefaultFadeSamples)
	if first[2*(DefaultFadeSamples/2)] != mid {
		t.Errorf("fade-in midpoint: got %d, want %d", first[2*(DefaultFadeSamples/2)], mid)
	}
}

// TestPanAndVolume mirrors the two-channel scenario: A panned hard left at
// full volume, B panned hard right at half volume, one 4800-sample decoder
// frame each.
func TestPanAndVolume(t *testing.T) {
	m, sink := newTestMixer(t, Config{GateFrames: 1})
	a, _ := m.Add("a", nil, 1.0, PanLeft)
	b, _ := m.Add("b", nil, 0.5, PanRight)
	enqueueConst(a, 1, 4800, 10000)
	enqueueConst(b, 1, 4800, 20000)

	for i := 0; i < 2; i++ {
		if !m.cycle() {
			t.Fatalf("cycle %d produced no output", i)
		}
	}

	for f, frame := range sink.frames {
		start := 0
		if f == 0 {
			start = DefaultFadeSamples
		}
		for i := start; i < FrameSamples; i++ {
			if frame[2*i] != 10000 {
				t.Fatalf("frame %d left sample %d: got %d, want 10000", f, i, frame[2*i])
			}
			if frame[2*i+1] != 10000 {
				t.Fatalf("frame %d right sample %d: got %d, want 10000 (20000 x 0.5)", f, i, frame[2*i+1])
			}
		}
	}

	// 4800 - 2*1920 = 960 residual samples pending per channel.
	if a.accLen != 960 || b.accLen != 960 {
		t.Errorf("residuals: got a=%d b=%d, want 960 each", a.accLen, b.accLen)
	}
}

// TestFadeOutOnUnderflow drains a channel dry and checks the cycle after the
// last full frame emits a linear ramp from the final sample to zero, then
// nothing.
func TestFadeOutOnUnderflow(t *testing.T) {
	m, sink := newTestMixer(t, Config{})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)
	enqueueConst(ch, DefaultGateFrames, FrameSamples, 1000)

	for i := 0; i < DefaultGateFrames; i++ {
		if !m.cycle() {
			t.Fatalf("cycle %d produced no output", i)
		}
	}

	// Underflow cycle: fade-out from 1000 to 0 on both slots.
	if !m.cycle() {
		t.Fatal("underflow cycle produced no output")
	}
	fade := sink.frames[len(sink.frames)-1]
	for i := 0; i < DefaultFadeSamples; i++ {
		want := int16(1000 * (1 - float64(i)/DefaultFadeSamples))
		if fade[2*i] != want || fade[2*i+1] != want {
			t.Fatalf("fade sample %d: got (%d, %d), want %d", i, fade[2*i], fade[2*i+1], want)
		}
	}
	for i := DefaultFadeSamples; i < FrameSamples; i++ {
		if fade[2*i] != 0 || fade[2*i+1] != 0 {
			t.Fatalf("post-fade sample %d: got (%d, %d), want silence", i, fade[2*i], fade[2*i+1])
		}
	}
	if got := ch.Stats().Underflows; got != 1 {
		t.Errorf("underflows: got %d, want 1", got)
	}

	// Subsequent cycles contribute nothing; the mixer goes idle.
	for i := 0; i < 10; i++ {
		if m.cycle() {
			t.Fatalf("idle cycle %d produced output", i)
		}
	}
}

// TestPeakLimiter overlays two full-scale centered channels and checks the
// limiter scales the summed frame back to exactly the int16 ceiling.
func TestPeakLimiter(t *testing.T) {
	m, sink := newTestMixer(t, Config{GateFrames: 1})
	a, _ := m.Add("a", nil, 1.0, PanCenter)
	b, _ := m.Add("b", nil, 1.0, PanCenter)
	enqueueConst(a, 2, FrameSamples, math.MaxInt16)
	enqueueConst(b, 2, FrameSamples, math.MaxInt16)

	m.cycle()
	m.cycle()
	if len(sink.frames) != 2 {
		t.Fatalf("sink frames: got %d, want 2", len(sink.frames))
	}

	// The second frame has no fade-in: every slot summed to 2*32767 and must
	// come out at exactly 32767 after uniform scaling.
	frame := sink.frames[1]
	for i, v := range frame {
		if v != math.MaxInt16 {
			t.Fatalf("sample %d: got %d, want %d", i, v, math.MaxInt16)
		}
	}
}

// TestAccumulation4800 feeds two 100 ms decoder frames and expects exactly
// five full mixer frames with no partial-frame artifacts.
func TestAccumulation4800(t *testing.T) {
	m, sink := newTestMixer(t, Config{GateFrames: 1})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)
	enqueueConst(ch, 2, 4800, 500)

	cycles := 0
	for m.cycle() {
		cycles++
		if cycles > 10 {
			t.Fatal("mixer did not run dry")
		}
	}
	// 2*4800 / 1920 = 5 full frames, then one fade-out cycle.
	if len(sink.frames) != 6 {
		t.Fatalf("sink frames: got %d, want 6 (5 tone + 1 fade-out)", len(sink.frames))
	}
	for f := 0; f < 5; f++ {
		frame := sink.frames[f]
		start := 0
		if f == 0 {
			start = DefaultFadeSamples
		}
		for i := start; i < FrameSamples; i++ {
			if frame[2*i] != 500 {
				t.Fatalf("frame %d sample %d: got %d, want 500", f, i, frame[2*i])
			}
		}
	}
	if got := ch.Stats().Underflows; got != 1 {
		t.Errorf("underflows: got %d, want 1", got)
	}
}

// TestOrdering960 streams a monotone ramp through 960-sample frames and
// checks the output preserves sample order with no gaps or repeats.
func TestOrdering960(t *testing.T) {
	m, sink := newTestMixer(t, Config{})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)

	const frames = 10
	v := int16(0)
	for f := 0; f < frames; f++ {
		frame := make([]int16, 960)
		for j := range frame {
			frame[j] = v
			v++
		}
		ch.Enqueue(frame)
	}

	for m.cycle() {
		if len(sink.frames) > frames {
			t.Fatal("mixer did not run dry")
		}
	}
	// 10*960 / 1920 = 5 tone frames; the ramp never goes silent mid-stream,
	// and the final value 9599 fades out in one extra frame.
	if len(sink.frames) != 6 {
		t.Fatalf("sink frames: got %d, want 6", len(sink.frames))
	}

	want := int16(0)
	for f := 0; f < 5; f++ {
		frame := sink.frames[f]
		for i := 0; i < FrameSamples; i++ {
			if f == 0 && i < DefaultFadeSamples {
				want++ // fade-in scales these; ordering resumes after the ramp
				continue
			}
			if frame[2*i] != want {
				t.Fatalf("frame %d sample %d: got %d, want %d", f, i, frame[2*i], want)
			}
			want++
		}
	}
}

func TestVolumeClamp(t *testing.T) {
	m, _ := newTestMixer(t, Config{})
	ch, _ := m.Add("a", nil, 1.0, PanCenter)
	ch.SetVolume(1.5)
	if got := ch.Volume(); got != 1.0 {
		t.Errorf("volume 1.5: got %f, want 1.0", got)
	}
	ch.SetVolume(-0.2)
	if got := ch.Volume(); got != 0.0 {
		t.Errorf("volume -0.2: got %f, want 0.0", got)
	}
}

func TestParsePan(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Pan
		ok   bool
	}{
		{"left", PanLeft, true},
		{"center", PanCenter, true},
		{"right", PanRight, true},
		{"", PanCenter, true},
		{"surround", PanCenter, false},
	} {
		got, err := ParsePan(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParsePan(%q): err = %v", tc.in, err)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParsePan(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAddRemove(t *testing.T) {
	m, _ := newTestMixer(t, Config{})
	if _, err := m.Add("x", nil, 1.0, PanCenter); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := m.Add("x", nil, 1.0, PanCenter); err == nil {
		t.Error("duplicate Add should fail")
	}
	if m.Channel("x") == nil {
		t.Fatal("Channel lookup failed after Add")
	}
	if !m.Remove("x") {
		t.Fatal("Remove returned false for existing channel")
	}
	if m.Channel("x") != nil {
		t.Error("Channel lookup should return nil after Remove")
	}
	if m.Remove("x") {
		t.Error("Remove of an absent channel should return false")
	}
	if len(m.Channels()) != 0 {
		t.Errorf("channel set not empty after remove: %d", len(m.Channels()))
	}
}

func TestSinkErrorDoesNotStopMixing(t *testing.T) {
	m, sink := newTestMixer(t, Config{GateFrames: 1})
	sink.err = errTest
	ch, _ := m.Add("a", nil, 1.0, PanCenter)
	enqueueConst(ch, 2, FrameSamples, 100)

	if !m.cycle() {
		t.Fatal("cycle with failing sink should still mix")
	}
	if !m.cycle() {
		t.Fatal("second cycle after sink failure should still mix")
	}
}

var errTest = errors.New("test sink failure")

func TestRunStops(t *testing.T) {
	m, _ := newTestMixer(t, Config{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(stop)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop")
	}
}
