// internal/llmclient/memory_darwin.go

//go:build darwin

package llmclient

import "golang.org/x/sys/unix"

func TotalMemory() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}
