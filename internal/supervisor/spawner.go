package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ExecSpawner starts the Producer by re-executing the current binary with a
// hidden subcommand argument, the self re-exec idiom adapted from
// kornnellio-runc-Go's container-process control (exec.Command(self,
// subcommand) rather than forking a distinct binary). The control pipe's
// read end and the event/error pipes' write ends are passed as inherited
// file descriptors via ExtraFiles so the child doesn't need them named on
// its command line.
type ExecSpawner struct {
	// Subcommand is the hidden argv[1] that routes the re-executed binary
	// into producer.Run (e.g. "__producer").
	Subcommand string
	// ExtraFiles are inherited by the child at fd 3, 4, 5, … in order.
	ExtraFiles []*os.File
	// Env, if non-nil, replaces the child's environment entirely.
	Env []string
}

// execChild wraps a running *exec.Cmd to satisfy supervisor.Child. A
// terminate token is a write to the control pipe's write end rather than a
// signal, so the Producer can finish flushing its current ring-buffer
// sample before exiting (spec §4.2's graceful-then-force-kill contract).
type execChild struct {
	cmd        *exec.Cmd
	controlW   *os.File
	exited     chan struct{}
	waitErr    error
}

func (s ExecSpawner) Spawn() (Child, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve executable path: %w", err)
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: open control pipe: %w", err)
	}

	cmd := exec.Command(self, s.Subcommand)
	cmd.ExtraFiles = append([]*os.File{controlR}, s.ExtraFiles...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if s.Env != nil {
		cmd.Env = s.Env
	}

	if err := cmd.Start(); err != nil {
		controlR.Close()
		controlW.Close()
		return nil, fmt.Errorf("supervisor: start producer: %w", err)
	}
	controlR.Close() // child keeps its own copy of this fd

	c := &execChild{cmd: cmd, controlW: controlW, exited: make(chan struct{})}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	return c, nil
}

func (c *execChild) Exited() <-chan struct{} { return c.exited }

func (c *execChild) MemoryVMS() (uint64, error) {
	if c.cmd.Process == nil {
		return 0, fmt.Errorf("supervisor: producer has no pid yet")
	}
	p, err := process.NewProcess(int32(c.cmd.Process.Pid))
	if err != nil {
		return 0, fmt.Errorf("supervisor: open producer process: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("supervisor: read producer memory: %w", err)
	}
	return mem.VMS, nil
}

// Terminate posts a single byte to the control pipe; the Producer
// subcommand cancels producer.Run's context when it reads that byte (or EOF
// once the write end is gone).
func (c *execChild) Terminate() error {
	_, err := c.controlW.Write([]byte{0})
	return err
}

func (c *execChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

// waitTimeout is exposed for callers that want a bounded wait outside the
// Supervisor's own poll loop (e.g. final shutdown).
func (c *execChild) waitTimeout(d time.Duration) error {
	select {
	case <-c.exited:
		return c.waitErr
	case <-time.After(d):
		return fmt.Errorf("supervisor: producer did not exit within %s", d)
	}
}
