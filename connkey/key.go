// Package connkey computes the canonical, direction-independent identity of
// a TCP/UDP/SCTP 5-tuple.
package connkey

import (
	"fmt"

	"github.com/m-lab/rttcp/packet"
)

// Key canonically identifies a connection regardless of which direction a
// given packet travels in: swapping src/dst on the packet yields the same
// Key, by construction.
type Key string

// endpointCmp orders two (ip, port) endpoints: lexicographic on ip, then
// numeric on port.
func endpointCmp(ip1 string, port1 int, ip2 string, port2 int) int {
	if ip1 < ip2 {
		return -1
	}
	if ip1 > ip2 {
		return 1
	}
	switch {
	case port1 < port2:
		return -1
	case port1 > port2:
		return 1
	default:
		return 0
	}
}

// For returns the canonical Key for r's connection: the two endpoints in
// endpointCmp order, so that a packet and its reverse-direction counterpart
// always hash to the same Key.
func For(r packet.Record) Key {
	if endpointCmp(r.IPSrc, r.SPort, r.IPDst, r.DPort) <= 0 {
		return Key(fmt.Sprintf("%s:%d-%s:%d-%d", r.IPSrc, r.SPort, r.IPDst, r.DPort, r.IPProto))
	}
	return Key(fmt.Sprintf("%s:%d-%s:%d-%d", r.IPDst, r.DPort, r.IPSrc, r.SPort, r.IPProto))
}

// IsForward reports whether r travels from the canonical "A" endpoint (the
// smaller of the two, per endpointCmp) towards "B". connstate.State uses
// this, on the connection's first packet, to decide which per-direction
// slot the packet's (src, dst) labels are assigned to for the life of the
// connection.
func IsForward(r packet.Record) bool {
	return endpointCmp(r.IPSrc, r.SPort, r.IPDst, r.DPort) <= 0
}
