package packet_test

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/m-lab/rttcp/packet"
)

// writeSyntheticCapture builds a single Ethernet/IPv4/TCP packet carrying a
// Timestamps option and writes it to a temporary pcap file, returning its
// path.
func writeSyntheticCapture(t *testing.T) string {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	tcp := &layers.TCP{
		SrcPort: 1000,
		DstPort: 80,
		Seq:     1000,
		SYN:     true,
		Options: []layers.TCPOption{
			{
				OptionType:   layers.TCPOptionKindTimestamps,
				OptionLength: 10,
				OptionData:   []byte{0, 0, 1, 244, 0, 0, 0, 0}, // tsval=500, tsecr=0
			},
		},
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("SerializeLayers() error = %v", err)
	}

	f, err := os.CreateTemp(t.TempDir(), "rttcp-*.pcap")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader() error = %v", err)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(1, 0),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := w.WritePacket(ci, buf.Bytes()); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	return f.Name()
}

func TestPcapSourceDecodesTimestampOption(t *testing.T) {
	path := writeSyntheticCapture(t)
	src, err := packet.NewPcapSource(path)
	if err != nil {
		t.Fatalf("NewPcapSource() error = %v", err)
	}
	defer src.Close()

	rec, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec.IPSrc != "10.0.0.1" || rec.IPDst != "10.0.0.2" {
		t.Errorf("got IPSrc=%q IPDst=%q", rec.IPSrc, rec.IPDst)
	}
	if rec.SPort != 1000 || rec.DPort != 80 {
		t.Errorf("got SPort=%d DPort=%d", rec.SPort, rec.DPort)
	}
	if !rec.TCPFlagSyn {
		t.Error("expected TCPFlagSyn = true")
	}
	if rec.TCPTSVal == nil || *rec.TCPTSVal != 500 {
		t.Errorf("got TCPTSVal = %v, want 500", rec.TCPTSVal)
	}
	if rec.TCPNxtSeq == nil || *rec.TCPNxtSeq != 1001 {
		t.Errorf("got TCPNxtSeq = %v, want 1001 (SYN consumes one sequence number)", rec.TCPNxtSeq)
	}

	if _, err := src.Next(); err == nil {
		t.Error("expected io.EOF after the single synthetic packet")
	}
}
