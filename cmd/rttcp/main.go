// Command rttcp is a passive TCP performance-diagnosis engine: it reads a
// stream of decoded packets (from the canonical tabular extractor format, a
// pcap capture, or a tshark-compatible binary) and writes either a
// per-connection flow summary or a per-packet delta stream.
package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/rttcp/connstate"
	"github.com/m-lab/rttcp/packet"
	"github.com/m-lab/rttcp/sink"
	"github.com/m-lab/rttcp/trace"

	// Enable profiling. For more background and usage information, see:
	//   https://blog.golang.org/profiling-go-programs
	_ "net/http/pprof"

	// Enable exported debug vars. See https://golang.org/pkg/expvar/
	_ "expvar"
)

var (
	analysisType = flagx.Enum{
		Options: []string{"flow", "packet"},
		Value:   "flow",
	}

	inputPath   = flag.String("input", "-", "Path to the tabular extractor text input, or - for stdin")
	pcapPath    = flag.String("pcap", "", "Path to a .pcap/.pcap.gz capture to decode directly, instead of -input")
	tsharkBin   = flag.String("tshark", "", "tshark-compatible binary to decode -pcap through, instead of the built-in decoder")
	outputPath  = flag.String("output", "-", "Path to write results to, or - for stdout")
	debugLevel  = flag.Int("debug", 0, "Debug verbosity level")
	metricsAddr = flag.String("metrics_addr", "", "Address to serve /metrics on; empty disables it")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Var(&analysisType, "type", "Analysis type: flow or packet")
}

func openSource() (interface{ Next() (packet.Record, error) }, func(), error) {
	if *pcapPath != "" {
		if *tsharkBin != "" {
			src, err := packet.NewTsharkSource(*tsharkBin, *pcapPath)
			if err != nil {
				return nil, func() {}, err
			}
			return src, func() { src.Close() }, nil
		}
		src, err := packet.NewPcapSource(*pcapPath)
		if err != nil {
			return nil, func() {}, err
		}
		return src, func() { src.Close() }, nil
	}

	var r io.Reader = os.Stdin
	closeFn := func() {}
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			return nil, func() {}, err
		}
		r = f
		closeFn = func() { f.Close() }
	}
	return packet.NewTextSource(r), closeFn, nil
}

func openOutput() (io.Writer, func()) {
	if *outputPath == "-" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(*outputPath)
	rtx.Must(err, "could not create output file %q", *outputPath)
	return f, func() { f.Close() }
}

func main() {
	flag.Parse()

	if *metricsAddr != "" {
		go func() {
			log.Printf("serving /metrics on %s", *metricsAddr)
			http.Handle("/metrics", promhttp.Handler())
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	src, closeSrc, err := openSource()
	rtx.Must(err, "could not open input source")
	defer closeSrc()

	w, closeOut := openOutput()
	defer closeOut()
	out := sink.New(w)
	defer out.Flush()

	mode := connstate.Mode(analysisType.Value)
	agg := trace.New(mode, out, *debugLevel)

	for {
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		rtx.Must(err, "source I/O error")
		agg.Process(rec)
	}
	agg.Shutdown()
}
