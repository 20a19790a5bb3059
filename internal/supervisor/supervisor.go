// Package supervisor keeps exactly one agent service reachable on a known
// port for the lifetime of the application.
//
// Stop uses a two-tier policy. When this instance spawned the service it
// terminates the process it owns. When the service was already running at
// startup, Stop still terminates whatever listens on the port: the product
// runs one service per user session, and leaving a stray service behind is
// worse than stopping one started by another copy of the app.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/roadmap-manager/roadmap/internal/probe"
)

// State is a supervisor lifecycle state.
type State string

const (
	NotStarted State = "not_started"
	Starting   State = "starting"
	Running    State = "running"
	Stopping   State = "stopping"
	Stopped    State = "stopped"
)

// Stop tiers recorded with each stop.
const (
	TierOwned     = "owned"
	TierDiscovery = "discovery"
)

// ErrSpawn wraps every failure to start the service process.
var ErrSpawn = errors.New("supervisor: spawn failed")

// ErrStopped is returned by EnsureRunning after Stop.
var ErrStopped = errors.New("supervisor: already stopped")

// Handle identifies a service process started by this supervisor.
type Handle struct {
	PID       int
	Port      int
	StartedAt time.Time

	proc Process
}

// Recorder persists service run history. Optional.
type Recorder interface {
	RecordServiceStart(pid, port int, owned bool, startedAt time.Time) (uint, error)
	RecordServiceStop(runID uint, tier string, stoppedAt time.Time) error
}

// Opts configures a Supervisor.
type Opts struct {
	Host         string
	Port         int
	Binary       string
	Args         []string
	WorkDir      string // created on start; also the service working dir
	SettleDelay  time.Duration
	ProbeTimeout time.Duration
	StopTimeout  time.Duration

	Prober   probe.Prober   // defaults to probe.TCP{}
	Spawner  Spawner        // defaults to ExecSpawner{}
	Finder   ListenerFinder // defaults to LsofFinder{}
	Recorder Recorder
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State     State     `json:"state"`
	Owned     bool      `json:"owned"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Reachable bool      `json:"reachable"` // result of the last probe
	LastProbe time.Time `json:"last_probe,omitempty"`
}

// Supervisor owns the agent service lifecycle.
type Supervisor struct {
	opts Opts

	mu        sync.Mutex
	state     State
	handle    *Handle
	runID     uint
	reachable bool
	lastProbe time.Time
	starting  chan struct{} // closed when the current start attempt resolves

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor in the NotStarted state.
func New(opts Opts) *Supervisor {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 500 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Prober == nil {
		opts.Prober = probe.TCP{}
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.Finder == nil {
		opts.Finder = LsofFinder{}
	}
	return &Supervisor{opts: opts, state: NotStarted, sleep: sleepCtx}
}

// Addr returns host:port of the supervised service.
func (s *Supervisor) Addr() string {
	return s.opts.Host + ":" + strconv.Itoa(s.opts.Port)
}

// EnsureRunning makes sure something is listening on the service port.
// When the port is already taken it returns a nil Handle and spawns
// nothing. Otherwise it spawns the service, waits the settle delay and
// returns the owned Handle. Calling it again while running returns the
// current handle (nil when unowned); a call made while another start is
// settling waits for that start to resolve.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	if err := s.waitStartLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	switch s.state {
	case Running:
		h := s.handle
		s.mu.Unlock()
		return h, nil
	case Stopping, Stopped:
		s.mu.Unlock()
		return nil, ErrStopped
	}

	if s.probeLocked() {
		s.state = Running
		s.mu.Unlock()
		log.Printf("supervisor: %s already in use, assuming an externally managed service", s.Addr())
		s.recordStart(0, false, time.Now())
		return nil, nil
	}

	if s.opts.WorkDir != "" {
		if err := os.MkdirAll(s.opts.WorkDir, 0755); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("supervisor: create work dir %s: %w", s.opts.WorkDir, err)
		}
	}

	s.state = Starting
	s.starting = make(chan struct{})
	s.mu.Unlock()

	proc, err := s.opts.Spawner.Spawn(ctx, s.spawnOpts())
	if err != nil {
		s.endStart(NotStarted, nil)
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if err := s.sleep(ctx, s.opts.SettleDelay); err != nil {
		s.terminate(proc)
		s.endStart(NotStarted, nil)
		return nil, fmt.Errorf("supervisor: settle: %w", err)
	}

	if exited(proc) {
		// Lost a bind race: someone else started the service between the
		// probe and the spawn. Use theirs.
		s.mu.Lock()
		ok := s.probeLocked()
		s.mu.Unlock()
		if ok {
			s.endStart(Running, nil)
			log.Printf("supervisor: spawned service exited but %s is answering, treating as external", s.Addr())
			s.recordStart(0, false, time.Now())
			return nil, nil
		}
		s.endStart(NotStarted, nil)
		return nil, fmt.Errorf("%w: service exited during settle delay", ErrSpawn)
	}

	h := &Handle{PID: proc.Pid(), Port: s.opts.Port, StartedAt: time.Now(), proc: proc}
	s.mu.Lock()
	s.reachable = true
	s.mu.Unlock()
	s.endStart(Running, h)

	log.Printf("supervisor: started service pid %d on %s", h.PID, s.Addr())
	s.recordStart(h.PID, true, h.StartedAt)
	return h, nil
}

// waitStartLocked blocks, with s.mu released, until no start attempt is
// settling. s.mu is held again on return.
func (s *Supervisor) waitStartLocked(ctx context.Context) error {
	for s.state == Starting {
		wait := s.starting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			s.mu.Lock()
			return ctx.Err()
		}
		s.mu.Lock()
	}
	return nil
}

// endStart resolves the current start attempt.
func (s *Supervisor) endStart(st State, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.handle = h
	if s.starting != nil {
		close(s.starting)
		s.starting = nil
	}
}

// Stop shuts the service down. With an owned handle it sends SIGTERM and
// waits up to StopTimeout before killing. Without one it terminates any
// listener discovered on the port. Stop is a no-op once it has succeeded.
// A Stop issued while a start is settling waits for it, so the freshly
// spawned process is the one that gets stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if err := s.waitStartLocked(ctx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: stop: %w", err)
	}
	if s.state == Stopped || s.state == Stopping {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	h := s.handle
	s.state = Stopping
	s.mu.Unlock()

	var (
		tier string
		err  error
	)
	if h != nil {
		tier = TierOwned
		err = s.stopOwned(ctx, h)
	} else {
		tier = TierDiscovery
		err = s.stopDiscovered()
	}

	s.mu.Lock()
	if err != nil {
		s.state = prev
		s.mu.Unlock()
		return fmt.Errorf("supervisor: stop (%s): %w", tier, err)
	}
	s.state = Stopped
	s.handle = nil
	s.reachable = false
	runID := s.runID
	s.mu.Unlock()

	if s.opts.Recorder != nil && runID != 0 {
		if rerr := s.opts.Recorder.RecordServiceStop(runID, tier, time.Now()); rerr != nil {
			log.Printf("supervisor: record stop: %v", rerr)
		}
	}
	return nil
}

func (s *Supervisor) stopOwned(ctx context.Context, h *Handle) error {
	if exited(h.proc) {
		return nil
	}
	if err := h.proc.Terminate(); err != nil && !exited(h.proc) {
		log.Printf("supervisor: terminate pid %d: %v", h.PID, err)
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.proc.Done():
		log.Printf("supervisor: service pid %d exited", h.PID)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	log.Printf("supervisor: service pid %d did not exit in %s, killing", h.PID, s.opts.StopTimeout)
	if err := h.proc.Kill(); err != nil && !exited(h.proc) {
		return fmt.Errorf("kill pid %d: %w", h.PID, err)
	}
	select {
	case <-h.proc.Done():
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("pid %d still running after kill", h.PID)
	}
}

func (s *Supervisor) stopDiscovered() error {
	pids, err := s.opts.Finder.ListenerPIDs(s.opts.Port)
	if err != nil {
		return err
	}
	var errs []error
	for _, pid := range pids {
		if err := s.opts.Finder.Terminate(pid); err != nil {
			errs = append(errs, fmt.Errorf("terminate pid %d: %w", pid, err))
			continue
		}
		log.Printf("supervisor: terminated listener pid %d on port %d", pid, s.opts.Port)
	}
	return errors.Join(errs...)
}

// Status returns the current supervisor status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Port:      s.opts.Port,
		Reachable: s.reachable,
		LastProbe: s.lastProbe,
	}
	if s.handle != nil {
		st.Owned = true
		st.PID = s.handle.PID
		st.StartedAt = s.handle.StartedAt
	}
	return st
}

// Refresh re-probes the service port and records the observation. It never
// restarts anything; a crashed service stays Running until shutdown.
func (s *Supervisor) Refresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.reachable
	ok := s.probeLocked()
	if s.state == Running && was && !ok {
		log.Printf("supervisor: service on %s stopped answering", s.Addr())
		if s.handle != nil && exited(s.handle.proc) {
			log.Printf("supervisor: owned service pid %d has exited", s.handle.PID)
		}
	}
	if s.state == Running && !was && ok {
		log.Printf("supervisor: service on %s is answering again", s.Addr())
	}
	return ok
}

func (s *Supervisor) probeLocked() bool {
	ok := s.opts.Prober.Probe(s.Addr(), s.opts.ProbeTimeout)
	s.reachable = ok
	s.lastProbe = time.Now()
	return ok
}

func (s *Supervisor) spawnOpts() SpawnOpts {
	opts := SpawnOpts{
		Binary:  s.opts.Binary,
		Args:    s.opts.Args,
		Host:    s.opts.Host,
		Port:    s.opts.Port,
		WorkDir: s.opts.WorkDir,
	}
	if s.opts.WorkDir != "" {
		opts.LogPath = filepath.Join(s.opts.WorkDir, "service.log")
	}
	return opts
}

func (s *Supervisor) terminate(p Process) {
	if err := p.Terminate(); err != nil && !exited(p) {
		p.Kill()
	}
}

func (s *Supervisor) recordStart(pid int, owned bool, at time.Time) {
	if s.opts.Recorder == nil {
		return
	}
	id, err := s.opts.Recorder.RecordServiceStart(pid, s.opts.Port, owned, at)
	if err != nil {
		log.Printf("supervisor: record start: %v", err)
		return
	}
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
