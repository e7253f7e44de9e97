package bridge

import (
	"os"
	"syscall"
)

func providerSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killTree(proc *os.Process) error {
	return proc.Kill()
}
