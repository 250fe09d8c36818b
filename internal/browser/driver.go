package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ysmood/leakless"

	. "github.com/roelfdiedericks/tabgate/internal/logging"
	"github.com/roelfdiedericks/tabgate/internal/paths"
)

// driverProcess is a backend executable started by Launch.
type driverProcess struct {
	cmd      *exec.Cmd
	guarded  bool
	childPID atomic.Int64 // real driver pid when started through leakless
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// startDriver runs "<binary> --port=<port> [args...]" with null standard
// streams. With cfg.Leakless the driver is wrapped so it dies with us even
// if we are killed without running Session.Close.
func startDriver(cfg DriverConfig, port int) (*driverProcess, error) {
	bin, err := paths.ResolveBinary(cfg.Binary)
	if err != nil {
		return nil, err
	}
	args := append([]string{"--port=" + strconv.Itoa(port)}, cfg.Args...)

	p := &driverProcess{done: make(chan struct{})}
	var pidCh chan int
	if cfg.Leakless && leakless.Support() {
		ll := leakless.New()
		p.cmd = ll.Command(bin, args...)
		p.guarded = true
		pidCh = ll.Pid()
	} else {
		p.cmd = exec.Command(bin, args...)
	}
	p.cmd.Stdin, p.cmd.Stdout, p.cmd.Stderr = nil, nil, nil

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("driver: failed to start %s: %w", bin, err)
	}
	L_debug("driver: started", "binary", bin, "port", port, "pid", p.cmd.Process.Pid, "leakless", p.guarded)

	if pidCh != nil {
		go func() {
			select {
			case pid := <-pidCh:
				p.childPID.Store(int64(pid))
			case <-p.done:
			}
		}()
	}
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Exited reports whether the process has already terminated.
func (p *driverProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop kills the driver and waits briefly for it to be reaped. Safe to call
// more than once.
func (p *driverProcess) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		if pid := int(p.childPID.Load()); pid > 0 {
			if proc, err := os.FindProcess(pid); err == nil {
				_ = proc.Kill()
			}
		}
		if !p.Exited() {
			if err := p.cmd.Process.Kill(); err != nil {
				L_warn("driver: kill failed", "pid", p.cmd.Process.Pid, "error", err)
			}
		}
		select {
		case <-p.done:
			L_debug("driver: stopped", "pid", p.cmd.Process.Pid, "exit", p.waitErr)
		case <-time.After(5 * time.Second):
			L_warn("driver: process did not exit after kill", "pid", p.cmd.Process.Pid)
		}
	})
}
