//go:build windows

package recognition

import "os"

func interruptSignal() os.Signal { return os.Kill }
