package trace_test

import (
	"strings"
	"testing"

	"github.com/m-lab/rttcp/connstate"
	"github.com/m-lab/rttcp/packet"
	"github.com/m-lab/rttcp/trace"
)

type fakeSink struct {
	lines []string
}

func (f *fakeSink) Emit(line string) error {
	f.lines = append(f.lines, line)
	return nil
}

func u32(v uint32) *uint32 { return &v }

func TestProcessDiscardsUnsupportedProtocol(t *testing.T) {
	sink := &fakeSink{}
	agg := trace.New(connstate.ModeFlow, sink, 0)

	agg.Process(packet.Record{IPProto: 1, IPSrc: "10.0.0.1", IPDst: "10.0.0.2", SPort: 1, DPort: 2})
	agg.Shutdown()

	// Only the header line should have been emitted: no connection was ever
	// created for an ICMP (proto 1) packet.
	if len(sink.lines) != 1 {
		t.Fatalf("got %d emitted lines, want 1 (header only): %v", len(sink.lines), sink.lines)
	}
}

func TestShutdownFlushesInInsertionOrder(t *testing.T) {
	sink := &fakeSink{}
	agg := trace.New(connstate.ModeFlow, sink, 0)

	first := packet.Record{IPProto: 6, IPSrc: "10.0.0.1", SPort: 1, IPDst: "10.0.0.9", DPort: 9, Timestamp: 0}
	second := packet.Record{IPProto: 6, IPSrc: "10.0.0.2", SPort: 2, IPDst: "10.0.0.8", DPort: 8, Timestamp: 0}
	agg.Process(first)
	agg.Process(second)
	agg.Shutdown()

	// header + two flow summaries, in the order the connections were first seen.
	if len(sink.lines) != 3 {
		t.Fatalf("got %d lines, want 3: %v", len(sink.lines), sink.lines)
	}
	if !strings.Contains(sink.lines[1], "10.0.0.1:1-10.0.0.9:9-6") {
		t.Errorf("first flushed summary should be connection 1, got: %q", sink.lines[1])
	}
	if !strings.Contains(sink.lines[2], "10.0.0.2:2-10.0.0.8:8-6") {
		t.Errorf("second flushed summary should be connection 2, got: %q", sink.lines[2])
	}
}

func TestCanonicalizationAcrossDirections(t *testing.T) {
	sink := &fakeSink{}
	agg := trace.New(connstate.ModeFlow, sink, 0)

	fwd := packet.Record{IPProto: 6, IPSrc: "10.0.0.1", SPort: 1000, IPDst: "10.0.0.2", DPort: 80,
		Timestamp: 0, TCPAck: u32(1)}
	rev := packet.Record{IPProto: 6, IPSrc: "10.0.0.2", SPort: 80, IPDst: "10.0.0.1", DPort: 1000,
		Timestamp: 1, TCPAck: u32(2)}
	agg.Process(fwd)
	agg.Process(rev)
	agg.Shutdown()

	if len(sink.lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + one merged connection summary): %v", len(sink.lines), sink.lines)
	}
}
