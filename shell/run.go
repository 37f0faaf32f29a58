// Package shell runs external commands with a deadline.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ShoshinNikita/rthumb/pkg/rlog"
)

var (
	ErrToolUnavailable = errors.New("tool is unavailable")
	ErrTimeout         = errors.New("command timed out")
)

// waitDelay limits the time we wait for the output pipes after the process is killed.
// Grandchildren can keep them open.
const waitDelay = 2 * time.Second

// Job describes a single command run.
type Job struct {
	// Args contains the command name and its arguments.
	Args []string
	// Stdin is written to the standard input of the process, optional.
	Stdin []byte
	// Timeout limits the run, non-positive values disable the limit.
	Timeout time.Duration
}

func (job Job) String() string {
	return strings.Join(job.Args, " ")
}

// Result contains the full output of a finished command.
type Result struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
}

func (res Result) Success() bool {
	return !res.TimedOut && res.ExitStatus == 0
}

type Runner struct {
	lookPath func(file string) (string, error)
}

func NewRunner() *Runner {
	return &Runner{
		lookPath: exec.LookPath,
	}
}

// LookPath returns [ErrToolUnavailable] if the tool can't be found.
func (r *Runner) LookPath(tool string) (string, error) {
	path, err := r.lookPath(tool)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrToolUnavailable, tool, err)
	}
	return path, nil
}

// Run starts the command and waits for it to finish. A non-zero exit status is not
// an error, it is reported in [Result.ExitStatus].
//
// When the timeout is exceeded, the whole process group is killed and reaped, and
// Run returns a result with TimedOut set and [ErrTimeout].
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	if len(job.Args) == 0 {
		return Result{}, errors.New("command can't be empty")
	}

	path, err := r.LookPath(job.Args[0])
	if err != nil {
		return Result{}, err
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	rlog.Debugf("exec %s", job)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, job.Args[1:]...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if job.Stdin != nil {
		// Broken pipe errors are ignored by exec: the process may exit without
		// reading the whole input.
		cmd.Stdin = bytes.NewReader(job.Stdin)
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err = cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{TimedOut: true, ExitStatus: -1}, fmt.Errorf("%w after %s: %s", ErrTimeout, job.Timeout, job)
		}
		return Result{ExitStatus: -1}, ctxErr
	}

	res := Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("couldn't run %q: %w", job.Args[0], err)
		}
		res.ExitStatus = exitErr.ExitCode()
	}
	return res, nil
}
