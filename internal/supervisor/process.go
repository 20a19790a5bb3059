package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// SpawnOpts holds parameters for starting the agent service.
type SpawnOpts struct {
	Binary  string
	Args    []string // base arguments, e.g. ["serve"]
	Host    string
	Port    int
	WorkDir string
	LogPath string // service stdout/stderr are appended here when set
}

// Process is a started service process.
type Process interface {
	Pid() int
	Terminate() error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Spawner starts service processes. ExecSpawner is the real implementation.
type Spawner interface {
	Spawn(ctx context.Context, opts SpawnOpts) (Process, error)
}

// ExecSpawner starts the service binary with os/exec.
type ExecSpawner struct{}

// Spawn starts the binary with the port and hostname appended to its base
// arguments. The process is not tied to ctx: the service outlives the
// request that started it and is only stopped through Supervisor.Stop.
func (ExecSpawner) Spawn(ctx context.Context, opts SpawnOpts) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := buildCommand(opts)

	var logFile *os.File
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open service log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		close(p.done)
	}()
	return p, nil
}

// buildCommand constructs the exec.Cmd for the agent service.
func buildCommand(opts SpawnOpts) *exec.Cmd {
	binary := opts.Binary
	if binary == "" {
		binary = "opencode"
	}
	args := append([]string{}, opts.Args...)
	args = append(args, "--port", strconv.Itoa(opts.Port))
	if opts.Host != "" {
		args = append(args, "--hostname", opts.Host)
	}

	cmd := exec.Command(binary, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	return cmd
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // valid after done is closed
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

// exited reports whether p has already exited, without blocking.
func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
