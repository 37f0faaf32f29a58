//go:build !unix

package shell

import "os/exec"

// setProcessGroup is a no-op: exec kills only the process itself on cancellation.
func setProcessGroup(*exec.Cmd) {}
