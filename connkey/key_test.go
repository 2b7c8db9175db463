package connkey_test

import (
	"testing"

	"github.com/m-lab/rttcp/connkey"
	"github.com/m-lab/rttcp/packet"
)

func TestForIsCanonical(t *testing.T) {
	fwd := packet.Record{IPSrc: "10.0.0.1", SPort: 1000, IPDst: "10.0.0.2", DPort: 80, IPProto: 6}
	rev := packet.Record{IPSrc: "10.0.0.2", SPort: 80, IPDst: "10.0.0.1", DPort: 1000, IPProto: 6}

	if connkey.For(fwd) != connkey.For(rev) {
		t.Errorf("For(fwd)=%q != For(rev)=%q", connkey.For(fwd), connkey.For(rev))
	}

	want := connkey.Key("10.0.0.1:1000-10.0.0.2:80-6")
	if got := connkey.For(fwd); got != want {
		t.Errorf("For(fwd) = %q, want %q", got, want)
	}
}

func TestIsForward(t *testing.T) {
	fwd := packet.Record{IPSrc: "10.0.0.1", SPort: 1000, IPDst: "10.0.0.2", DPort: 80}
	rev := packet.Record{IPSrc: "10.0.0.2", SPort: 80, IPDst: "10.0.0.1", DPort: 1000}

	if !connkey.IsForward(fwd) {
		t.Error("IsForward(fwd) = false, want true")
	}
	if connkey.IsForward(rev) {
		t.Error("IsForward(rev) = true, want false")
	}
}
