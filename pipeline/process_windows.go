//go:build windows

package pipeline

import "os/exec"

// killGroupOnCancel keeps exec's default of killing the process itself;
// WaitDelay bounds the wait on any children still holding the pipe.
func killGroupOnCancel(cmd *exec.Cmd) {}
