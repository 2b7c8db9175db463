package packet

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/m-lab/rttcp/rttcpmetrics"
)

// ErrShortRecord is returned (and swallowed by TextSource.Next) when a line
// does not split into exactly the expected number of semicolon-separated
// fields.
var ErrShortRecord = fmt.Errorf("packet: record has wrong number of fields")

const numTextFields = 14

var (
	sparseLogger = log.New(os.Stderr, "parse: ", log.LstdFlags)
	sparseEvery  = logx.NewLogEvery(sparseLogger, 500*time.Millisecond)
)

// TextSource reads the canonical tabular extractor format from an
// io.Reader: one record per line, 14 fields separated by ";", in this
// order:
//
//	frame.time_epoch; ip.proto; ip.src; ip.dst; ip.len; tcp.srcport;
//	tcp.dstport; tcp.seq; tcp.len; tcp.nxtseq; tcp.ack; tcp.flags.syn;
//	tcp.options.timestamp.tsval; tcp.options.timestamp.tsecr
//
// A field containing a comma-separated list (produced when tshark decodes
// multiple protocol layers) uses the last value. Lines that fail to parse
// are logged and skipped, never fatal.
type TextSource struct {
	scanner *bufio.Scanner
}

// NewTextSource wraps r for line-oriented reading.
func NewTextSource(r io.Reader) *TextSource {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	return &TextSource{scanner: s}
}

// Next returns the next parsed Record, or io.EOF once the input is
// exhausted. Unparsable lines are skipped internally; Next never returns
// ErrShortRecord or a strconv error to the caller.
func (t *TextSource) Next() (Record, error) {
	for t.scanner.Scan() {
		line := t.scanner.Text()
		if line == "" {
			continue
		}
		rec, err := ParseTextLine(line)
		if err != nil {
			rttcpmetrics.ParseErrors.WithLabelValues(reasonFor(err)).Inc()
			sparseEvery.Printf("discarding line: %v (%q)", err, line)
			continue
		}
		return rec, nil
	}
	if err := t.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func reasonFor(err error) string {
	if err == ErrShortRecord {
		return "short_record"
	}
	return "bad_field"
}

// lastCSV returns the last entry of a comma-separated list, or s unchanged
// if it contains no comma. Multi-layer captures repeat a field once per
// layer; the extractor convention is to keep only the innermost (last)
// value.
func lastCSV(s string) string {
	if i := strings.LastIndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ParseTextLine parses one line of the canonical extractor text format.
func ParseTextLine(line string) (Record, error) {
	fields := strings.Split(line, ";")
	if len(fields) != numTextFields {
		return Record{}, ErrShortRecord
	}
	timestamp, err := strconv.ParseFloat(lastCSV(fields[0]), 64)
	if err != nil {
		return Record{}, err
	}
	ipProto, err := strconv.Atoi(lastCSV(fields[1]))
	if err != nil {
		return Record{}, err
	}
	ipLen, err := strconv.ParseInt(lastCSV(fields[4]), 10, 64)
	if err != nil {
		return Record{}, err
	}
	sport, err := strconv.Atoi(lastCSV(fields[5]))
	if err != nil {
		return Record{}, err
	}
	dport, err := strconv.Atoi(lastCSV(fields[6]))
	if err != nil {
		return Record{}, err
	}
	seq, err := parseUint32(lastCSV(fields[7]))
	if err != nil {
		return Record{}, err
	}
	tcpLen, err := strconv.ParseInt(lastCSV(fields[8]), 10, 64)
	if err != nil {
		return Record{}, err
	}
	nxtseq, err := parseOptionalUint32(fields[9])
	if err != nil {
		return Record{}, err
	}
	ack, err := parseOptionalUint32(fields[10])
	if err != nil {
		return Record{}, err
	}
	synFlag, err := strconv.Atoi(lastCSV(fields[11]))
	if err != nil {
		return Record{}, err
	}
	tsval, err := parseOptionalUint32(fields[12])
	if err != nil {
		return Record{}, err
	}
	tsecr, err := parseOptionalUint32(fields[13])
	if err != nil {
		return Record{}, err
	}
	return Record{
		Timestamp:  timestamp,
		IPProto:    ipProto,
		IPSrc:      lastCSV(fields[2]),
		IPDst:      lastCSV(fields[3]),
		IPLen:      ipLen,
		SPort:      sport,
		DPort:      dport,
		TCPSeq:     seq,
		TCPLen:     tcpLen,
		TCPNxtSeq:  nxtseq,
		TCPAck:     ack,
		TCPFlagSyn: synFlag != 0,
		TCPTSVal:   tsval,
		TCPTSEcr:   tsecr,
	}, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseOptionalUint32(s string) (*uint32, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseUint32(lastCSV(s))
	if err != nil {
		return nil, err
	}
	return &v, nil
}
