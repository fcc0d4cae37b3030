package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// SinkFactory opens a playback sink that accepts a WAV stream.
type SinkFactory func(name string) (io.WriteCloser, error)

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Close() error                { return nil }

// DiscardSinks drops everything written to them.
func DiscardSinks(string) (io.WriteCloser, error) {
	return discardSink{}, nil
}

// CommandSinks pipes each sink into a new process such as "aplay -q".
// An empty command discards audio.
func CommandSinks(command string) SinkFactory {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return DiscardSinks
	}
	return func(name string) (io.WriteCloser, error) {
		cmd := exec.Command(fields[0], fields[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting playback for %s: %w", name, err)
		}
		return &commandSink{WriteCloser: stdin, cmd: cmd}, nil
	}
}

type commandSink struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (c *commandSink) Close() error {
	err := c.WriteCloser.Close()
	if werr := c.cmd.Wait(); err == nil {
		err = werr
	}
	return err
}
