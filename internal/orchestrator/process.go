// Package orchestrator supervises the ephemeral child processes of a test
// run: mock backends and the gateway-under-test.
//
// DESIGN: Every managed process moves through an explicit state machine
//
//	NotStarted -> Starting -> Ready -> Stopping -> Stopped
//
// with Failed reachable from Starting (died before readiness) and from Ready
// (died mid-test). Stopped and Failed are terminal; a handle is never
// restarted. Stdout and stderr are always captured so a startup failure can
// be reported with the child's own output attached.
package orchestrator

import (
	"bytes"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a managed process.
type State string

const (
	NotStarted State = "not_started"
	Starting   State = "starting"
	Ready      State = "ready"
	Stopping   State = "stopping"
	Stopped    State = "stopped"
	Failed     State = "failed"
)

// ReadyPollInterval is how often readiness probes a TCP connect.
const ReadyPollInterval = 500 * time.Millisecond

// DefaultStopGrace is how long Stop waits after SIGTERM before escalating
// to SIGKILL.
const DefaultStopGrace = 5 * time.Second

// lockedBuffer makes output capture safe against the exec goroutine writing
// while a failure path reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Process is a handle to one supervised child.
type Process struct {
	Name string

	cmd    *exec.Cmd
	stdout lockedBuffer
	stderr lockedBuffer

	mu      sync.Mutex
	state   State
	done    chan struct{}
	waitErr error
}

// Start launches a child process and begins supervising it. The returned
// handle is in state Starting; callers promote it with WaitReady or observe
// failure through Stop/State.
func Start(name, command string, args ...string) (*Process, error) {
	p := &Process{
		Name:  name,
		state: NotStarted,
		done:  make(chan struct{}),
	}

	// #nosec G204 -- command and args come from the harness scenario, not remote input
	p.cmd = exec.Command(command, args...)
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr

	if err := p.cmd.Start(); err != nil {
		p.setState(Failed)
		return nil, &StartupError{Name: name, Msg: fmt.Sprintf("exec %s: %v", command, err)}
	}
	p.setState(Starting)
	log.Debug().Str("process", name).Int("pid", p.cmd.Process.Pid).Msg("process started")

	go func() {
		p.waitErr = p.cmd.Wait()
		p.mu.Lock()
		switch p.state {
		case Stopping:
			p.state = Stopped
		case Starting, Ready:
			p.state = Failed
		}
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// State reports the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Stdout returns everything the child has written to stdout so far.
func (p *Process) Stdout() string { return p.stdout.String() }

// Stderr returns everything the child has written to stderr so far.
func (p *Process) Stderr() string { return p.stderr.String() }

// Done is closed once the child has exited, whatever the reason.
func (p *Process) Done() <-chan struct{} { return p.done }

// AwaitReady polls a TCP connect to addr until it succeeds or timeout
// elapses. It reports readiness as a boolean and never fails on an
// unsuccessful probe; a probe refusing the connection just means "not yet".
func AwaitReady(addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, ReadyPollInterval)
		if err == nil {
			_ = conn.Close()
			return true
		}
		time.Sleep(ReadyPollInterval)
	}
	return false
}

// WaitReady promotes the process to Ready once addr accepts a TCP connect.
// It fails fast when the child exits before becoming ready, and in both
// failure modes (early exit, timeout) attaches the captured output.
func (p *Process) WaitReady(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-p.done:
			return &StartupError{
				Name:   p.Name,
				Msg:    fmt.Sprintf("exited before becoming ready (%v)", p.waitErr),
				Stdout: p.Stdout(),
				Stderr: p.Stderr(),
			}
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, ReadyPollInterval)
		if err == nil {
			_ = conn.Close()
			p.mu.Lock()
			if p.state == Starting {
				p.state = Ready
			}
			p.mu.Unlock()
			log.Debug().Str("process", p.Name).Str("addr", addr).Msg("process ready")
			return nil
		}

		if time.Now().After(deadline) {
			_ = p.Stop(DefaultStopGrace)
			return &StartupError{
				Name:   p.Name,
				Msg:    fmt.Sprintf("not ready on %s within %s", addr, timeout),
				Stdout: p.Stdout(),
				Stderr: p.Stderr(),
			}
		}
		time.Sleep(ReadyPollInterval)
	}
}

// Stop terminates the child: SIGTERM first, then SIGKILL if it has not
// exited within grace. Stop is idempotent and safe on already-dead handles;
// when it returns, the child's listening ports are released.
func (p *Process) Stop(grace time.Duration) error {
	p.mu.Lock()
	switch p.state {
	case NotStarted, Stopped, Failed:
		p.mu.Unlock()
		return nil
	case Stopping:
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.state = Stopping
	p.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone; the wait goroutine will settle the state.
		<-p.done
		return nil
	}

	select {
	case <-p.done:
	case <-time.After(grace):
		log.Warn().Str("process", p.Name).Dur("grace", grace).Msg("graceful stop timed out, killing")
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	log.Debug().Str("process", p.Name).Msg("process stopped")
	return nil
}
