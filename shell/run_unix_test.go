//go:build unix

package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunner_RunTimeout(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	pidFile := filepath.Join(t.TempDir(), "pid")

	// The shell starts a child to check that the whole process group is killed.
	script := "sleep 30 & echo $! > " + pidFile + "; wait"

	const timeout = 300 * time.Millisecond

	start := time.Now()
	res, err := NewRunner().Run(context.Background(), Job{
		Args:    []string{"sh", "-c", script},
		Timeout: timeout,
	})
	dur := time.Since(start)

	r.ErrorIs(err, ErrTimeout)
	r.True(res.TimedOut)
	r.False(res.Success())
	r.Nil(res.Stdout)
	r.Less(dur, timeout+waitDelay, "Run must return right after the timeout")

	rawPID, err := os.ReadFile(pidFile)
	r.NoError(err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(rawPID)))
	r.NoError(err)

	// The orphaned child is reaped by init, it can take some time.
	r.Eventually(func() bool {
		return !isProcessAlive(pid)
	}, 5*time.Second, 50*time.Millisecond, "child process must be killed")
}

// isProcessAlive treats zombies as dead processes: in containers orphans are
// not always reaped.
func isProcessAlive(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return false
	}

	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	i := strings.LastIndexByte(string(stat), ')')
	if i == -1 || i+2 >= len(stat) {
		return true
	}
	return stat[i+2] != 'Z'
}
