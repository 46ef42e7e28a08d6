//go:build linux || darwin

package main

import (
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// hostPageInfo reports the system page size and the total number of
// physical pages of RAM (§6 "X" record). The page size comes from
// os.Getpagesize; total physical memory comes from gopsutil's
// mem.VirtualMemory rather than parsing /proc/meminfo ourselves, since
// gopsutil already abstracts the platform difference and this port also
// targets Darwin from the same code path.
func hostPageInfo() (pageSize, physPages uint64, err error) {
	pageSize = uint64(os.Getpagesize())

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return pageSize, vm.Total / pageSize, nil
}

// currentRSS reports this process's resident set size at exit (§6 "R"
// record), via gopsutil's process.Process.MemoryInfo rather than reading
// /proc/self/statm directly.
func currentRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
