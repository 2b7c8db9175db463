// Package packet defines the decoded packet record the core analytic engine
// consumes, and the adapters that produce a stream of them: a parser for the
// canonical ";"-delimited extractor text format, a Go-native pcap decoder,
// and a wrapper that shells out to a tshark-compatible binary.
package packet

// Record is one decoded packet's fields, as produced by an external
// extractor (or one of the Source implementations in this package) and
// consumed by the core analytic engine. It is immutable once constructed.
//
// Optional fields that the extractor may not have populated are represented
// as pointers: nil means "absent," never a magic zero value.
type Record struct {
	Timestamp float64 // monotonic wall-clock seconds, trace-ordered within a connection.
	IPProto   int     // 6 (TCP), 17 (UDP), 132 (SCTP); other values are discarded by TraceAggregator.
	IPSrc     string
	IPDst     string
	IPLen     int64
	SPort     int
	DPort     int

	TCPSeq      uint32
	TCPLen      int64
	TCPNxtSeq   *uint32 // absent when there is no payload and no flag consumed a sequence number.
	TCPAck      *uint32 // absent unless the ACK flag is set.
	TCPFlagSyn  bool
	TCPTSVal    *uint32 // TCP Timestamp option: sender's clock.
	TCPTSEcr    *uint32 // TCP Timestamp option: echoed peer clock.
}

// SupportedProtocol reports whether ip_proto is one the core processes.
func SupportedProtocol(ipProto int) bool {
	switch ipProto {
	case 6, 17, 132:
		return true
	default:
		return false
	}
}

// U32 returns a pointer to v, for filling Record's optional fields.
func U32(v uint32) *uint32 {
	return &v
}
