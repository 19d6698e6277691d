package hostinfo

import (
	"bufio"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
)

// Hostname returns the OS hostname, or "unknown" when unavailable.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// Platform returns the normalized platform name.
func Platform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return runtime.GOOS
	}
}

// Memory returns total and used host memory in MiB, best-effort from
// /proc/meminfo. Both are 0 when the file is unavailable.
func Memory() (totalMB, usedMB int64) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer file.Close()

	var totalKB, availableKB int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availableKB = value
		}
	}

	totalMB = totalKB / 1024
	usedMB = (totalKB - availableKB) / 1024
	if usedMB < 0 {
		usedMB = 0
	}
	return totalMB, usedMB
}

var (
	commitOnce  sync.Once
	commitValue string
)

// Commit returns the short VCS revision baked into the binary, computed
// once. "unknown" when the build carries no VCS info.
func Commit() string {
	commitOnce.Do(func() {
		commitValue = "unknown"
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				commitValue = setting.Value[:7]
				return
			}
		}
	})
	return commitValue
}
