//go:build !windows

package recognition

import (
	"os"
	"syscall"
)

func interruptSignal() os.Signal { return syscall.SIGINT }
