package packet

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapSource decodes packets directly out of a pcap/pcap.gz capture file
// using gopacket, without needing a tshark binary on PATH. It is a
// Go-native alternative to TsharkSource.
//
// Only IPv4/IPv6-over-Ethernet frames carrying TCP are decoded into
// Records; everything else is skipped, including UDP and SCTP, which
// trace.Aggregator's own protocol filter would otherwise accept.
type PcapSource struct {
	reader *pcapgo.Reader
	closer io.Closer
}

// NewPcapSource opens path (transparently gunzipping a ".pcap.gz" capture)
// and returns a Source over its decoded TCP packets.
func NewPcapSource(path string) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	var closer io.Closer = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r = gz
		closer = multiCloser{gz, f}
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &PcapSource{reader: pr, closer: closer}, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close releases the underlying file (and gzip reader, if any).
func (p *PcapSource) Close() error {
	return p.closer.Close()
}

// Next decodes the next TCP/IP packet in the capture, skipping everything
// else (non-IP frames, non-TCP IP payloads, truncated captures), and
// returns io.EOF once the capture is exhausted.
func (p *PcapSource) Next() (Record, error) {
	for {
		data, ci, err := p.reader.ReadPacketData()
		if err != nil {
			return Record{}, err
		}
		rec, ok := decodeTCPPacket(data, ci)
		if !ok {
			continue
		}
		return rec, nil
	}
}

func decodeTCPPacket(data []byte, ci gopacket.CaptureInfo) (Record, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	var srcIP, dstIP string
	var ipLen int64
	var proto layers.IPProtocol

	if v4 := pkt.Layer(layers.LayerTypeIPv4); v4 != nil {
		ip := v4.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
		ipLen = int64(ip.Length)
		proto = ip.Protocol
	} else if v6 := pkt.Layer(layers.LayerTypeIPv6); v6 != nil {
		ip := v6.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP.String(), ip.DstIP.String()
		ipLen = int64(ip.Length) + 40 // IPv6 Length field excludes the fixed header.
		proto = ip.NextHeader
	} else {
		return Record{}, false
	}
	if proto != layers.IPProtocolTCP {
		return Record{}, false
	}
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return Record{}, false
	}
	tcp := tcpLayer.(*layers.TCP)

	payloadLen := int64(len(tcp.Payload))
	rec := Record{
		Timestamp:  float64(ci.Timestamp.UnixNano()) / 1e9,
		IPProto:    int(proto),
		IPSrc:      srcIP,
		IPDst:      dstIP,
		IPLen:      ipLen,
		SPort:      int(tcp.SrcPort),
		DPort:      int(tcp.DstPort),
		TCPSeq:     tcp.Seq,
		TCPLen:     payloadLen,
		TCPFlagSyn: tcp.SYN,
	}
	if tcp.ACK {
		rec.TCPAck = U32(tcp.Ack)
	}
	consumesSeq := payloadLen > 0 || tcp.SYN || tcp.FIN
	if consumesSeq {
		next := tcp.Seq + uint32(payloadLen)
		if tcp.SYN || tcp.FIN {
			next++
		}
		rec.TCPNxtSeq = U32(next)
	}
	for _, opt := range tcp.Options {
		if opt.OptionType == layers.TCPOptionKindTimestamps && len(opt.OptionData) == 8 {
			tsval := binary.BigEndian.Uint32(opt.OptionData[0:4])
			tsecr := binary.BigEndian.Uint32(opt.OptionData[4:8])
			rec.TCPTSVal = U32(tsval)
			rec.TCPTSEcr = U32(tsecr)
		}
	}
	return rec, true
}
