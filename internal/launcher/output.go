package launcher

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/loykin/runonce/internal/logger"
	"github.com/loykin/runonce/internal/task"
)

// Output routes the child's stdout and stderr into the task log.
type Output interface {
	Attach(cmd *exec.Cmd, cfg task.RunConfig) (Attachment, error)
}

// Attachment is the per-launch side of an Output.
type Attachment interface {
	// Started is called once the child is running.
	Started() error
	// Close releases everything the attachment holds. It is called after the
	// child has been reaped, or when the start failed.
	Close() error
}

// InProcess prefixes child output inside the supervisor. Output is only
// captured while the supervisor is alive, which makes it suitable for active
// mode and embedding.
type InProcess struct {
	Log logger.Config
}

func (o InProcess) Attach(cmd *exec.Cmd, cfg task.RunConfig) (Attachment, error) {
	w := logger.NewPrefixWriter(o.Log.FileWriter(cfg.LogPath()), cfg.Name)
	// same writer for both streams so exec shares a single pipe
	cmd.Stdout = w
	cmd.Stderr = w
	return &inProcess{w: w}, nil
}

type inProcess struct {
	once sync.Once
	w    *logger.PrefixWriter
	err  error
}

func (a *inProcess) Started() error { return nil }

func (a *inProcess) Close() error {
	a.once.Do(func() { a.err = a.w.Close() })
	return a.err
}

// Relay hands child output to a detached helper process that prefixes it into
// the task log, so output keeps flowing after the supervisor has exited.
// The helper is started as Argv plus "--task <name> --log-file <path>" and
// reads the child's output from its stdin.
type Relay struct {
	Argv []string
}

func (o Relay) Attach(cmd *exec.Cmd, cfg task.RunConfig) (Attachment, error) {
	if len(o.Argv) == 0 {
		return nil, errors.New("relay command not configured")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	args := append(append([]string{}, o.Argv[1:]...), "--task", cfg.Name, "--log-file", cfg.LogPath())
	// #nosec G204
	rc := exec.Command(o.Argv[0], args...)
	rc.Stdin = r
	rc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := rc.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	return &relay{r: r, w: w, proc: rc.Process}, nil
}

type relay struct {
	once sync.Once
	r, w *os.File
	proc *os.Process
}

// Started drops the supervisor's copies of the pipe so the helper sees EOF
// when the child exits.
func (a *relay) Started() error { return a.Close() }

func (a *relay) Close() error {
	var err error
	a.once.Do(func() {
		err = errors.Join(a.r.Close(), a.w.Close(), a.proc.Release())
	})
	return err
}
