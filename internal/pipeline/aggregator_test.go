package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/testutil/testlog"
)

type fakeClock struct {
	times []time.Time
	calls int
}

func (c *fakeClock) Now() time.Time {
	t := c.times[c.calls]
	c.calls++
	return t
}

func frameOf(msgs ...protocol.Message) []byte {
	var out []byte
	for _, m := range msgs {
		out = m.AppendEncoded(out)
	}
	return out
}

func TestAggregationBoundary(t *testing.T) {
	testlog.Start(t)
	t1 := time.UnixMicro(1_700_000_000_000_001)
	t2 := time.UnixMicro(1_700_000_000_020_002)
	t3 := time.UnixMicro(1_700_000_000_040_003)
	clock := &fakeClock{times: []time.Time{t1, t2, t3}}

	var frames []protocol.Frame
	agg := NewAggregator(PathSerial, clock.Now, func(f protocol.Frame) { frames = append(frames, f) })

	seq1 := protocol.SequenceMessage(1)
	a := protocol.NewMessage(protocol.TagIMU, []byte{0xA})
	seq2 := protocol.SequenceMessage(2)
	b := protocol.NewMessage(protocol.TagCurrent, []byte{0xB})
	c := protocol.NewMessage(protocol.TagVoltage, []byte{0xC, 0x00})
	seq3 := protocol.SequenceMessage(3)

	for _, m := range []protocol.Message{seq1, a, seq2, b, c, seq3} {
		agg.AddMessage(m)
	}

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	want1 := frameOf(seq1, a, protocol.EpochMessage(uint64(t1.UnixMicro())))
	want2 := frameOf(seq2, b, c, protocol.EpochMessage(uint64(t2.UnixMicro())))
	if !bytes.Equal(frames[0], want1) {
		t.Fatalf("frame 1 mismatch:\n got=%x\nwant=%x", frames[0], want1)
	}
	if !bytes.Equal(frames[1], want2) {
		t.Fatalf("frame 2 mismatch:\n got=%x\nwant=%x", frames[1], want2)
	}
	if got := agg.Pending(); got != len(seq3.Encode()) {
		t.Fatalf("expected open frame to hold only the last sequence marker, pending=%d", got)
	}
	testlog.Logf("pipeline/aggregator: two frames closed with epochs %d and %d", t1.UnixMicro(), t2.UnixMicro())
}

func TestFirstSequenceOnlyRecordsEpoch(t *testing.T) {
	testlog.Start(t)
	var frames int
	agg := NewAggregator(PathSerial, nil, func(protocol.Frame) { frames++ })
	if agg.State() != StateIdle {
		t.Fatalf("expected idle, got %s", agg.State())
	}
	agg.AddMessage(protocol.SequenceMessage(0))
	if frames != 0 {
		t.Fatalf("first sequence must not emit")
	}
	if agg.State() != StateAccumulating {
		t.Fatalf("expected accumulating, got %s", agg.State())
	}
}

func TestFramesWithoutSequenceAccumulate(t *testing.T) {
	testlog.Start(t)
	var frames int
	agg := NewAggregator(PathSerial, nil, func(protocol.Frame) { frames++ })
	m := protocol.NewMessage(protocol.TagIMU, []byte{1, 2, 3})
	for range 100 {
		agg.AddMessage(m)
	}
	if frames != 0 {
		t.Fatalf("no frame may close without a sequence marker")
	}
	if agg.Pending() != 100*len(m.Encode()) {
		t.Fatalf("unexpected pending size: %d", agg.Pending())
	}
}

func TestClosedFrameIsNotReused(t *testing.T) {
	testlog.Start(t)
	var frames []protocol.Frame
	agg := NewAggregator(PathSerial, nil, func(f protocol.Frame) { frames = append(frames, f) })
	agg.AddMessage(protocol.SequenceMessage(1))
	agg.AddMessage(protocol.SourceMessage("veh-1"))
	agg.AddMessage(protocol.SequenceMessage(2))
	snapshot := bytes.Clone(frames[0])

	for range 10 {
		agg.AddMessage(protocol.NewMessage(protocol.TagDebugValues, bytes.Repeat([]byte{0xEE}, 32)))
	}
	if !bytes.Equal(frames[0], snapshot) {
		t.Fatalf("closed frame modified after hand-off")
	}
}

func TestAggregatorReset(t *testing.T) {
	testlog.Start(t)
	var frames int
	agg := NewAggregator(PathSerial, nil, func(protocol.Frame) { frames++ })
	agg.AddMessage(protocol.SequenceMessage(1))
	agg.Reset()
	if agg.State() != StateIdle || agg.Pending() != 0 {
		t.Fatalf("reset did not return to idle")
	}
	agg.AddMessage(protocol.SequenceMessage(2))
	if frames != 0 {
		t.Fatalf("sequence after reset must behave like the first one")
	}
}
