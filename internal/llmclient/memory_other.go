// internal/llmclient/memory_other.go

//go:build !linux && !darwin

package llmclient

import "errors"

func TotalMemory() (uint64, error) {
	return 0, errors.New("reading host memory is not supported on this platform")
}
