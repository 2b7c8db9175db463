// Package connstate implements the per-connection analytic engine: the four
// delta computations (data-to-ACK RTT, TSval/TSecr pairing, sender-clock
// residual, same-side inter-arrival) plus flow-level aggregation.
package connstate

import (
	"fmt"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/montanaflynn/stats"

	"github.com/m-lab/rttcp/connkey"
	"github.com/m-lab/rttcp/modulo"
	"github.com/m-lab/rttcp/packet"
	"github.com/m-lab/rttcp/rttcpmetrics"
)

// Mode selects how a State reports its results: a per-sample stream of
// delta lines, or a single summary line emitted at shutdown.
type Mode string

const (
	ModeFlow   Mode = "flow"
	ModePacket Mode = "packet"
)

// popularHz are the sender clock frequencies estimateHz snaps to.
var popularHz = []float64{100, 200, 250, 1000}

const hzErrorThreshold = 0.05

// Sink is the minimal write contract a State needs from an output sink;
// sink.EmitSink satisfies it.
type Sink interface {
	Emit(line string) error
}

type unackedSegment struct {
	timestamp float64
	tcpLen    int64
	tcpNxtSeq uint32
}

type untsecredSegment struct {
	timestamp float64
	tsval     uint32
}

type tsvalRef struct {
	timestamp float64
	tsval     uint32
}

// State is one 5-tuple connection's worth of bookkeeping. Per-direction
// maps are keyed by the canonical endpoint string ("ip:port") fixed on the
// connection's first packet, and both sides' structures are initialized up
// front rather than lazily on first use.
type State struct {
	arith   modulo.Arith
	mode    Mode
	sink    Sink
	debug   int
	connKey connkey.Key

	ipProto int
	ipSrc   string
	ipDst   string
	sport   int
	dport   int
	src     string // canonical "A" endpoint, ip:port
	dst     string // canonical "B" endpoint, ip:port

	ipTotalPkt   int64
	ipTotalBytes int64
	firstTS      float64
	lastTS       float64

	unackedSegments   map[string][]unackedSegment
	ackHighest        map[string]*uint32
	delta1Samples     map[string][]float64
	delta1Sketch      map[string]*ddsketch.DDSketch
	untsecredSegments map[string][]untsecredSegment
	tsecrHighest      map[string]*uint32

	referenceTSVal map[string]*tsvalRef
	estimatedHz    map[string]*float64 // nil = unset, value hzInvalid = disabled

	lastTimestampFromData map[string]*float64
	lastTimestampFromAck  map[string]*float64

	tcpSeqSyn    map[string]*uint32
	tcpSeqFirst  map[string]*uint32
	tcpSeqLast   map[string]*uint32
	tcpTotalBytes map[string]int64
}

const hzInvalid = -1

// endpoint renders an (ip, port) pair as the map key used throughout State's
// per-direction bookkeeping.
func endpoint(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// New constructs a State from the connection's first packet, fixing the
// canonical A/B direction and eagerly initializing every per-direction
// structure for both sides. Call Process(first) on the returned State to
// process that same packet's content.
func New(key connkey.Key, first packet.Record, mode Mode, sink Sink, debug int) *State {
	s := &State{
		arith:   modulo.New(modulo.TCPSeqMax),
		mode:    mode,
		sink:    sink,
		debug:   debug,
		connKey: key,
		ipProto: first.IPProto,
	}
	if connkey.IsForward(first) {
		s.ipSrc, s.ipDst, s.sport, s.dport = first.IPSrc, first.IPDst, first.SPort, first.DPort
	} else {
		s.ipSrc, s.ipDst, s.sport, s.dport = first.IPDst, first.IPSrc, first.DPort, first.SPort
	}
	s.src = endpoint(s.ipSrc, s.sport)
	s.dst = endpoint(s.ipDst, s.dport)

	sides := []string{s.src, s.dst}
	s.unackedSegments = map[string][]unackedSegment{}
	s.ackHighest = map[string]*uint32{}
	s.delta1Samples = map[string][]float64{}
	s.delta1Sketch = map[string]*ddsketch.DDSketch{}
	s.untsecredSegments = map[string][]untsecredSegment{}
	s.tsecrHighest = map[string]*uint32{}
	s.referenceTSVal = map[string]*tsvalRef{}
	s.estimatedHz = map[string]*float64{}
	s.lastTimestampFromData = map[string]*float64{}
	s.lastTimestampFromAck = map[string]*float64{}
	s.tcpSeqSyn = map[string]*uint32{}
	s.tcpSeqFirst = map[string]*uint32{}
	s.tcpSeqLast = map[string]*uint32{}
	s.tcpTotalBytes = map[string]int64{}
	for _, side := range sides {
		s.unackedSegments[side] = nil
		s.delta1Samples[side] = nil
		sk, _ := ddsketch.NewDefaultDDSketch(0.01)
		s.delta1Sketch[side] = sk
		s.untsecredSegments[side] = nil
		s.tcpTotalBytes[side] = 0
	}
	s.firstTS = first.Timestamp
	return s
}

// Process advances connection state by one packet: the four delta
// subsystems and the flow aggregator all see every packet, in this order.
func (s *State) Process(p packet.Record) {
	src := endpoint(p.IPSrc, p.SPort)
	dst := endpoint(p.IPDst, p.DPort)

	s.processDelta1(src, dst, p)
	s.processDelta2(src, dst, p)
	s.processDelta3(src, dst, p)
	s.processDelta4(src, dst, p)
	s.flowProcessPacket(src, dst, p)

	s.ipTotalPkt++
}

func (s *State) emit(kind string, timestamp float64, src, dst string, delta float64, aux string) {
	if s.mode != ModePacket {
		return
	}
	if delta > 1.0 && kind != "delta4" {
		rttcpmetrics.SuspectDeltaTotal.WithLabelValues(kind).Inc()
	}
	line := fmt.Sprintf("%s %f %s %s %f %s", kind, timestamp, src, dst, delta, aux)
	s.sink.Emit(line)
}

// processDelta1 matches data segments with the first ACK that covers them,
// yielding the data-to-ACK latency for that segment.
func (s *State) processDelta1(src, dst string, p packet.Record) {
	if p.TCPLen > 0 {
		dup := false
		for _, seg := range s.unackedSegments[src] {
			if p.TCPNxtSeq != nil && seg.tcpNxtSeq == *p.TCPNxtSeq {
				dup = true
				break
			}
		}
		if dup {
			var kept []unackedSegment
			for _, seg := range s.unackedSegments[src] {
				if p.TCPNxtSeq != nil && seg.tcpNxtSeq == *p.TCPNxtSeq {
					continue
				}
				kept = append(kept, seg)
			}
			s.unackedSegments[src] = kept
		} else if p.TCPNxtSeq != nil {
			s.unackedSegments[src] = append(s.unackedSegments[src], unackedSegment{
				timestamp: p.Timestamp,
				tcpLen:    p.TCPLen,
				tcpNxtSeq: *p.TCPNxtSeq,
			})
		}
	}

	if p.TCPAck == nil {
		return
	}
	newAckValue := false
	if s.ackHighest[src] == nil {
		v := *p.TCPAck
		s.ackHighest[src] = &v
		newAckValue = true
	} else if s.arith.Cmp(int64(*s.ackHighest[src]), int64(*p.TCPAck)) < 0 {
		v := *p.TCPAck
		s.ackHighest[src] = &v
		newAckValue = true
	}
	if !newAckValue {
		return
	}

	ackHigh := int64(*s.ackHighest[src])
	var kept []unackedSegment
	for _, seg := range s.unackedSegments[dst] {
		if s.arith.Cmp(int64(seg.tcpNxtSeq), ackHigh) <= 0 {
			delta1 := p.Timestamp - seg.timestamp
			// The sample is attributed to the direction that sent the
			// data, which is the reverse of this ACK's own direction.
			if s.mode == ModeFlow {
				s.delta1Samples[dst] = append(s.delta1Samples[dst], delta1)
				s.delta1Sketch[dst].Add(delta1)
			} else {
				s.emit("delta1", p.Timestamp, dst, src, delta1, "-")
			}
		} else {
			kept = append(kept, seg)
		}
	}
	s.unackedSegments[dst] = kept
}

// processDelta2 matches segments with the first TSecr that echoes their
// TSval, yielding the round-trip latency the Timestamps option encodes.
func (s *State) processDelta2(src, dst string, p packet.Record) {
	if p.TCPTSVal == nil || p.TCPTSEcr == nil {
		return
	}
	if p.TCPLen > 0 {
		s.untsecredSegments[src] = append(s.untsecredSegments[src], untsecredSegment{
			timestamp: p.Timestamp,
			tsval:     *p.TCPTSVal,
		})
	}
	newTsecrValue := false
	if s.tsecrHighest[src] == nil {
		v := *p.TCPTSEcr
		s.tsecrHighest[src] = &v
		newTsecrValue = true
	} else if *s.tsecrHighest[src] < *p.TCPTSEcr {
		v := *p.TCPTSEcr
		s.tsecrHighest[src] = &v
		newTsecrValue = true
	}
	if !newTsecrValue {
		return
	}

	tsecrHigh := *s.tsecrHighest[src]
	var kept []untsecredSegment
	for _, seg := range s.untsecredSegments[dst] {
		if seg.tsval <= tsecrHigh {
			delta2 := p.Timestamp - seg.timestamp
			if s.mode == ModePacket {
				s.emit("delta2", p.Timestamp, dst, src, delta2, "-")
			}
		} else {
			kept = append(kept, seg)
		}
	}
	s.untsecredSegments[dst] = kept
}

// estimateHz snaps the observed TSval rate of change to the nearest of
// popularHz, disabling delta3 (returns hzInvalid) if no candidate is
// within hzErrorThreshold relative error.
func (s *State) estimateHz(src string, p packet.Record) float64 {
	ref := s.referenceTSVal[src]
	estimated := float64(int64(*p.TCPTSVal)-int64(ref.tsval)) / (p.Timestamp - ref.timestamp)
	best := popularHz[0]
	bestErr := math.Abs((estimated - best) / best)
	for _, hz := range popularHz[1:] {
		e := math.Abs((estimated - hz) / hz)
		if e < bestErr {
			bestErr = e
			best = hz
		}
	}
	if bestErr > hzErrorThreshold {
		rttcpmetrics.HzEstimationFailures.Inc()
		return hzInvalid
	}
	return best
}

// processDelta3 estimates the sender's clock frequency and compares the
// observed arrival time against the time that frequency predicts.
func (s *State) processDelta3(src, dst string, p packet.Record) {
	if p.TCPTSVal == nil || p.TCPTSEcr == nil {
		return
	}
	if s.referenceTSVal[src] == nil {
		s.referenceTSVal[src] = &tsvalRef{timestamp: p.Timestamp, tsval: *p.TCPTSVal}
		return
	}
	ref := s.referenceTSVal[src]
	if s.estimatedHz[src] == nil {
		hz := s.estimateHz(src, p)
		s.estimatedHz[src] = &hz
	}
	hz := *s.estimatedHz[src]
	if hz == hzInvalid {
		return
	}
	expected := ref.timestamp + float64(int64(*p.TCPTSVal)-int64(ref.tsval))/hz
	delta3 := p.Timestamp - expected
	if s.mode == ModePacket {
		s.emit("delta3", p.Timestamp, src, dst, delta3, "-")
	}
}

// processDelta4 measures inter-arrival spacing between consecutive
// same-side segments, split by traffic class.
func (s *State) processDelta4(src, dst string, p packet.Record) {
	traffic := "data"
	table := s.lastTimestampFromData
	if p.TCPLen == 0 {
		traffic = "ack"
		table = s.lastTimestampFromAck
	}
	if last := table[src]; last != nil {
		delta4 := p.Timestamp - *last
		if s.mode == ModePacket {
			s.emit("delta4", p.Timestamp, src, dst, delta4, traffic)
		}
	}
	v := p.Timestamp
	table[src] = &v
}

// flowProcessPacket maintains the per-direction sequence/byte/timing state
// consumed by the flow-mode summary.
func (s *State) flowProcessPacket(src, dst string, p packet.Record) {
	if p.TCPFlagSyn {
		v := p.TCPSeq
		s.tcpSeqSyn[src] = &v
	}
	s.lastTS = p.Timestamp
	s.ipTotalBytes += p.IPLen
	s.tcpTotalBytes[src] += p.TCPLen
	if s.tcpSeqFirst[src] == nil {
		v := p.TCPSeq
		s.tcpSeqFirst[src] = &v
	}
	nxtseq := p.TCPSeq
	if p.TCPNxtSeq != nil {
		nxtseq = *p.TCPNxtSeq
	}
	if s.tcpSeqLast[src] == nil {
		v := nxtseq
		s.tcpSeqLast[src] = &v
	} else {
		v := uint32(s.arith.Max(int64(*s.tcpSeqLast[src]), int64(nxtseq)))
		s.tcpSeqLast[src] = &v
	}
}

// Delta1Quantiles reports the approximate p50/p90/p99 of delta1 samples
// observed in side's direction, via a DDSketch maintained alongside the
// mean/median flow-summary columns. It does not affect the flow-mode wire
// format.
func (s *State) Delta1Quantiles(side string) (p50, p90, p99 float64, ok bool) {
	sk := s.delta1Sketch[side]
	if sk == nil {
		return 0, 0, 0, false
	}
	var err error
	if p50, err = sk.GetValueAtQuantile(0.5); err != nil {
		return 0, 0, 0, false
	}
	if p90, err = sk.GetValueAtQuantile(0.9); err != nil {
		return 0, 0, 0, false
	}
	if p99, err = sk.GetValueAtQuantile(0.99); err != nil {
		return 0, 0, 0, false
	}
	return p50, p90, p99, true
}

// dash renders a "-" flow column for a value considered absent.
const dash = "-"

func seqOrDash(v *uint32) string {
	if v == nil {
		return dash
	}
	return fmt.Sprintf("%d", *v)
}

// Flush emits this connection's flow-mode summary line, if in flow mode.
// It is a no-op in packet mode, since that mode already emitted every
// sample inline.
func (s *State) Flush() {
	if s.mode != ModeFlow {
		return
	}
	pps, ipBitrate, tcpBytes, goodputBytes, goodputBitrate := dash, dash, dash, dash, dash
	smallMean, smallMedian, largeMean, largeMedian := dash, dash, dash, dash

	if s.firstTS != s.lastTS {
		duration := s.lastTS - s.firstTS
		pps = fmt.Sprintf("%f", float64(s.ipTotalPkt)/duration)
		ipBitrate = fmt.Sprintf("%f", 8*float64(s.ipTotalBytes)/duration)
		tcpBytes = fmt.Sprintf("%d", s.tcpTotalBytes[s.src]+s.tcpTotalBytes[s.dst])

		goodput := s.arith.Diff(int64(derefOr(s.tcpSeqLast[s.src])), int64(derefOr(s.tcpSeqFirst[s.src])))
		goodput += s.arith.Diff(int64(derefOr(s.tcpSeqLast[s.dst])), int64(derefOr(s.tcpSeqFirst[s.dst])))
		goodputBytes = fmt.Sprintf("%d", goodput)
		goodputBitrate = fmt.Sprintf("%f", 8*float64(goodput)/duration)

		srcSamples, dstSamples := s.delta1Samples[s.src], s.delta1Samples[s.dst]
		if sm, sme, lm, lme, ok := smallLargeMeanMedian(srcSamples, dstSamples); ok {
			smallMean, smallMedian, largeMean, largeMedian = sm, sme, lm, lme
		}
	}

	line := fmt.Sprintf("%s %f %f %d %s %s %d %d %s %s %s %s %s %s %s %s %s",
		s.connKey, s.firstTS, s.lastTS, s.ipProto,
		seqOrDash(s.tcpSeqSyn[s.src]), seqOrDash(s.tcpSeqSyn[s.dst]),
		s.ipTotalPkt, s.ipTotalBytes,
		pps, ipBitrate, tcpBytes, goodputBytes, goodputBitrate,
		smallMean, smallMedian, largeMean, largeMedian)
	s.sink.Emit(line)
}

func derefOr(v *uint32) uint32 {
	if v != nil {
		return *v
	}
	return 0
}

// smallLargeMeanMedian orders two directions' delta1 samples by median and
// returns the formatted mean/median of the lower-median ("small") side
// followed by the higher-median ("large") side.
func smallLargeMeanMedian(a, b []float64) (smallMean, smallMedian, largeMean, largeMedian string, ok bool) {
	if len(a) == 0 && len(b) == 0 {
		return "", "", "", "", false
	}
	aMean, aMedian, aOK := meanMedian(a)
	bMean, bMedian, bOK := meanMedian(b)
	switch {
	case aOK && !bOK:
		return fmtF(aMean), fmtF(aMedian), dash, dash, true
	case bOK && !aOK:
		return dash, dash, fmtF(bMean), fmtF(bMedian), true
	case aMedian < bMedian:
		return fmtF(aMean), fmtF(aMedian), fmtF(bMean), fmtF(bMedian), true
	default:
		return fmtF(bMean), fmtF(bMedian), fmtF(aMean), fmtF(aMedian), true
	}
}

func meanMedian(samples []float64) (mean, median float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	data := stats.Float64Data(samples)
	mean, err := data.Mean()
	if err != nil {
		return 0, 0, false
	}
	median, err = data.Median()
	if err != nil {
		return 0, 0, false
	}
	return mean, median, true
}

func fmtF(v float64) string {
	return fmt.Sprintf("%f", v)
}
