package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// stopGrace is how long a process gets after SIGINT before it is killed.
const stopGrace = 3 * time.Second

// proc is one audio helper process (recorder or player).
type proc struct {
	name   string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *os.File
	stdin  io.WriteCloser

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// expand fills {rate} and {device} placeholders in a command template.
func expand(tpl string, rate int, deviceID string) string {
	r := strings.NewReplacer("{rate}", strconv.Itoa(rate), "{device}", deviceID)
	return r.Replace(tpl)
}

func startProc(name, command string, withStdin, withStdout bool) (*proc, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.New(name + " command not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = envFromOS()
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGrace

	p := &proc{name: name, cmd: cmd, cancel: cancel, done: make(chan struct{})}

	// stdout goes through our own pipe so Wait never closes it under a reader.
	var childOut *os.File
	if withStdout {
		r, w, err := os.Pipe()
		if err != nil {
			cancel()
			return nil, err
		}
		p.stdout, childOut = r, w
		cmd.Stdout = w
	}
	if withStdin {
		in, err := cmd.StdinPipe()
		if err != nil {
			p.closePipes(childOut)
			cancel()
			return nil, err
		}
		p.stdin = in
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.closePipes(childOut)
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		p.closePipes(childOut)
		cancel()
		return nil, err
	}
	if childOut != nil {
		childOut.Close()
	}
	log.Printf("[%s] started pid=%d cmd=%q", name, cmd.Process.Pid, command)

	go p.stream("stderr", stderr)
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		if p.err != nil && ctx.Err() == nil {
			log.Printf("[%s] exited: %v", name, p.err)
		}
	}()
	return p, nil
}

func (p *proc) closePipes(childOut *os.File) {
	if p.stdout != nil {
		p.stdout.Close()
	}
	if childOut != nil {
		childOut.Close()
	}
}

// Close stops the process: SIGINT, then kill after the grace period.
func (p *proc) Close() error {
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		p.cancel()
		<-p.done
		if p.stdout != nil {
			_ = p.stdout.Close()
		}
		log.Printf("[%s] stopped", p.name)
	})
	return nil
}

func (p *proc) Done() <-chan struct{} { return p.done }

func (p *proc) stream(stream string, rdr io.Reader) {
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		log.Printf("[%s] %s: %s", p.name, stream, scanner.Text())
	}
}

func envFromOS() []string {
	// Clone to avoid accidental modification of the returned backing array
	base := os.Environ()
	out := make([]string, len(base))
	copy(out, base)
	return out
}
