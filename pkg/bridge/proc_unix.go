//go:build !windows

package bridge

import (
	"os"
	"syscall"
)

// providerSysProcAttr puts the provider in its own process group so wrapper
// launchers (npx, uvx, sh) are torn down together with their children.
func providerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func killTree(proc *os.Process) error {
	return syscall.Kill(-proc.Pid, syscall.SIGKILL)
}
