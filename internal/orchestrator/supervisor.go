package orchestrator

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Supervisor tracks every process a scenario starts so teardown can be a
// single deferred call. A failure partway through setup still stops whatever
// was already running; nothing leaks into the next run.
type Supervisor struct {
	mu    sync.Mutex
	procs []*Process
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Start launches and tracks a process in one step.
func (s *Supervisor) Start(name, command string, args ...string) (*Process, error) {
	p, err := Start(name, command, args...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

// StopAll stops every tracked process in reverse start order (gateway before
// the backends it depends on). It never returns early: each process gets its
// own stop attempt regardless of earlier failures.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	procs := make([]*Process, len(s.procs))
	copy(procs, s.procs)
	s.procs = s.procs[:0]
	s.mu.Unlock()

	for i := len(procs) - 1; i >= 0; i-- {
		if err := procs[i].Stop(grace); err != nil {
			log.Warn().Err(err).Str("process", procs[i].Name).Msg("stop failed during teardown")
		}
	}
}

// FindFreePort asks the kernel for an unused TCP port. Scenarios that do not
// pin ports use this to stay disjoint from concurrent runs.
func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}

// IsPortInUse checks whether a TCP port can currently be bound.
func IsPortInUse(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}
