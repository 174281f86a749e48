package voice

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// ExecRecorder shells out to a capture binary (arecord by default) streaming
// raw PCM to stdout.
type ExecRecorder struct {
	binary string
	args   []string
}

var _ Recorder = (*ExecRecorder)(nil)

func NewExecRecorder(binary string) *ExecRecorder {
	return &ExecRecorder{
		binary: binary,
		args:   []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1"},
	}
}

func (r *ExecRecorder) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

func (r *ExecRecorder) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, r.binary, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("recorder start: %w", err)
	}
	return &procStream{ReadCloser: stdout, cmd: cmd}, nil
}

type procStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *procStream) Close() error {
	err := p.ReadCloser.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return err
}
