//go:build linux

package runner

import "syscall"

// preloadEnvVar is the dynamic linker variable Linux consults to interpose
// symbols ahead of the normal search order.
const preloadEnvVar = "LD_PRELOAD"

func mkfifo(path string, mode uint32) error {
	return syscall.Mkfifo(path, mode)
}
