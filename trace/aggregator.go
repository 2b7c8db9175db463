// Package trace demultiplexes a packet stream into per-connection state and
// owns the output lifecycle: an insertion-ordered connection table plus
// flush-at-shutdown summary emission.
package trace

import (
	"log"

	"github.com/m-lab/rttcp/connkey"
	"github.com/m-lab/rttcp/connstate"
	"github.com/m-lab/rttcp/packet"
	"github.com/m-lab/rttcp/rttcpmetrics"
)

// Aggregator holds one connstate.State per observed connection, in
// first-seen order, and drives its lifecycle. Go's map has no defined
// iteration order, so insertion order is tracked separately in keys.
type Aggregator struct {
	mode  connstate.Mode
	sink  connstate.Sink
	debug int

	conns map[connkey.Key]*connstate.State
	keys  []connkey.Key
}

// New constructs an Aggregator and writes the output header line
// appropriate to mode.
func New(mode connstate.Mode, sink connstate.Sink, debug int) *Aggregator {
	a := &Aggregator{
		mode:  mode,
		sink:  sink,
		debug: debug,
		conns: map[connkey.Key]*connstate.State{},
	}
	sink.Emit(Header(mode))
	return a
}

// Header returns the column header line for mode.
func Header(mode connstate.Mode) string {
	if mode == connstate.ModeFlow {
		return "#connhash first_ts last_ts ip_proto tcp_seq_syn[src] tcp_seq_syn[dst] " +
			"ip_total_pkt ip_total_bytes pps ip_bitrate tcp_bytes tcp_goodput_bytes " +
			"tcp_goodput_bitrate delta1_small_mean delta1_small_median delta1_large_mean delta1_large_median"
	}
	return "#type timestamp src dst delta other"
}

// Process routes one packet to its connection, creating the connection's
// State on first sight. Non TCP/UDP/SCTP traffic is discarded.
func (a *Aggregator) Process(p packet.Record) {
	if !packet.SupportedProtocol(p.IPProto) {
		return
	}
	rttcpmetrics.PacketsTotal.WithLabelValues(protoLabel(p.IPProto)).Inc()

	key := connkey.For(p)
	state, ok := a.conns[key]
	if !ok {
		state = connstate.New(key, p, a.mode, a.sink, a.debug)
		a.conns[key] = state
		a.keys = append(a.keys, key)
		rttcpmetrics.ConnectionsTotal.Inc()
		if a.debug > 0 {
			log.Printf("new connection %s", key)
		}
	}
	state.Process(p)
}

// Shutdown flushes every connection's flow-mode summary in insertion
// order. It is a no-op in packet mode.
func (a *Aggregator) Shutdown() {
	for _, key := range a.keys {
		a.conns[key].Flush()
	}
}

func protoLabel(proto int) string {
	switch proto {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 132:
		return "sctp"
	default:
		return "other"
	}
}
