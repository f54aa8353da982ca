package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Process is a running ffmpeg fed or drained through raw pipes.
type Process struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc

	// Stdin is nil unless PipeOptions.Stdin was set.
	Stdin io.WriteCloser
	// Stdout is nil unless PipeOptions.Stdout was set.
	Stdout io.ReadCloser

	tail       *tailBuffer
	stderrDone chan struct{}
}

// Start launches ffmpeg with the requested pipes attached. The caller must
// call Wait (after closing Stdin and draining Stdout) or Kill.
func (e *Executor) Start(ctx context.Context, opts PipeOptions) (*Process, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	ctx, cancel := context.WithCancel(ctx)
	args := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting piped ffmpeg")

	p := &Process{
		cmd:        exec.CommandContext(ctx, e.ffmpegPath, args...),
		ctx:        ctx,
		cancel:     cancel,
		tail:       &tailBuffer{},
		stderrDone: make(chan struct{}),
	}

	var closers []io.Closer
	closePipes := func() {
		for _, c := range closers {
			_ = c.Close()
		}
		cancel()
	}

	var err error
	if opts.Stdin {
		p.Stdin, err = p.cmd.StdinPipe()
		if err != nil {
			closePipes()
			return nil, fmt.Errorf("creating stdin pipe: %w", err)
		}
		closers = append(closers, p.Stdin)
	}

	if opts.Stdout {
		p.Stdout, err = p.cmd.StdoutPipe()
		if err != nil {
			closePipes()
			return nil, fmt.Errorf("creating stdout pipe: %w", err)
		}
		closers = append(closers, p.Stdout)
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		closePipes()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		closePipes()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	go p.readStderr(stderr, opts.Stderr)

	return p, nil
}

func (p *Process) readStderr(r io.Reader, sink io.Writer) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.tail.add(line)
		if sink != nil {
			fmt.Fprintln(sink, line)
		}
	}
}

// Wait closes stdin (if any), waits for exit and reports failures as
// *ExecError.
func (p *Process) Wait() error {
	defer p.cancel()

	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	<-p.stderrDone

	if err := p.cmd.Wait(); err != nil {
		if errors.Is(p.ctx.Err(), context.Canceled) {
			return p.ctx.Err()
		}
		timedOut := errors.Is(p.ctx.Err(), context.DeadlineExceeded)
		return newExecError("ffmpeg", err, timedOut, p.tail.String())
	}
	return nil
}

// Kill terminates the process and reaps it.
func (p *Process) Kill() {
	p.cancel()
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	if p.Stdout != nil {
		_ = p.Stdout.Close()
	}
	<-p.stderrDone
	_ = p.cmd.Wait()
}
