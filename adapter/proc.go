package adapter

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stridelab/traincore/api"
	"github.com/stridelab/traincore/session"
)

// ProcessLifecycle feeds a lifecycle observer from the OS process state
// of the session-owning process: a stopped process (SIGSTOP/SIGTSTP)
// reports as backgrounded, a runnable one as active. Run it against a
// supervised pid; with pid 0 it watches the current process, which can
// only ever observe the return to active after a SIGCONT.
type ProcessLifecycle struct {
	obs      *session.Observer
	proc     *process.Process
	interval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewProcessLifecycle starts polling pid every interval and publishing
// transitions into obs.
func NewProcessLifecycle(obs *session.Observer, pid int32, interval time.Duration) (*ProcessLifecycle, error) {
	if pid == 0 {
		pid = int32(os.Getpid())
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	p := &ProcessLifecycle{
		obs:      obs,
		proc:     proc,
		interval: interval,
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Close stops the poller.
func (p *ProcessLifecycle) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *ProcessLifecycle) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sample()
		case <-p.done:
			return
		}
	}
}

func (p *ProcessLifecycle) sample() {
	statuses, err := p.proc.Status()
	if err != nil {
		return
	}
	for _, st := range statuses {
		if st == process.Stop {
			p.obs.Publish(api.StateBackgrounded)
			return
		}
	}
	p.obs.Publish(api.StateActive)
}
