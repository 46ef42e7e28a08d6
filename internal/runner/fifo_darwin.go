//go:build darwin

package runner

import "syscall"

// preloadEnvVar is dyld's equivalent of LD_PRELOAD, matching
// original_source/interpret/src/executor.rs's exec_cmd which sets this
// exact variable.
const preloadEnvVar = "DYLD_INSERT_LIBRARIES"

func mkfifo(path string, mode uint32) error {
	return syscall.Mkfifo(path, mode)
}
