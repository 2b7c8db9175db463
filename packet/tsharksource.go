package packet

import (
	"io"
	"log"
	"os/exec"
)

// tsharkFields is the field list TsharkSource requests, in the order
// TextSource expects them. Absolute (not relative) TCP sequence numbers are
// required, since the core's sequence arithmetic is defined over the raw
// wire values.
var tsharkFields = []string{
	"frame.time_epoch",
	"ip.proto",
	"ip.src",
	"ip.dst",
	"ip.len",
	"tcp.srcport",
	"tcp.dstport",
	"tcp.seq",
	"tcp.len",
	"tcp.nxtseq",
	"tcp.ack",
	"tcp.flags.syn",
	"tcp.options.timestamp.tsval",
	"tcp.options.timestamp.tsecr",
}

// TsharkSource invokes an external capture-decoder binary (a tshark-
// compatible CLI) against a capture file and streams its output through
// TextSource. It exists so that production deployments that already run
// tshark as the extractor front end can still drive this core engine
// without modification.
type TsharkSource struct {
	*TextSource
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// NewTsharkSource starts binPath (default "tshark" if empty) reading
// capturePath, and returns a Source over its decoded fields. Call Close to
// reap the subprocess.
func NewTsharkSource(binPath, capturePath string) (*TsharkSource, error) {
	if binPath == "" {
		binPath = "tshark"
	}
	args := []string{"-n", "-T", "fields", "-E", "separator=;",
		"-o", "tcp.relative_sequence_numbers:false"}
	for _, f := range tsharkFields {
		args = append(args, "-e", f)
	}
	args = append(args, "-r", capturePath)

	cmd := exec.Command(binPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = log.Writer()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &TsharkSource{
		TextSource: NewTextSource(stdout),
		cmd:        cmd,
		stdout:     stdout,
	}, nil
}

// Close waits for the tshark subprocess to exit.
func (t *TsharkSource) Close() error {
	t.stdout.Close()
	return t.cmd.Wait()
}
