package hostinfo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ProcessRSSMB returns the resident set size of a process in MiB, read from
// /proc/<pid>/stat. 0 when unavailable (foreign platform, exited process).
func ProcessRSSMB(pid int) int64 {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0
	}
	fields := splitProcStat(string(data))
	if len(fields) < 24 {
		return 0
	}
	rssPages, err := strconv.ParseInt(fields[23], 10, 64)
	if err != nil || rssPages < 0 {
		return 0
	}
	return rssPages * int64(os.Getpagesize()) / (1024 * 1024)
}

// splitProcStat splits a /proc/<pid>/stat line, keeping the parenthesized
// command name (which may contain spaces) as a single field.
func splitProcStat(line string) []string {
	start := strings.Index(line, "(")
	end := strings.LastIndex(line, ")")
	if start == -1 || end == -1 || end <= start {
		return strings.Fields(line)
	}
	before := strings.Fields(line[:start])
	name := line[start : end+1]
	after := strings.Fields(line[end+1:])
	fields := append(before, name)
	fields = append(fields, after...)
	return fields
}

// CPUTracker computes a best-effort host CPU usage percentage from deltas
// of consecutive /proc/stat samples. The first call returns 0.
type CPUTracker struct {
	mu   sync.Mutex
	last cpuSample
}

type cpuSample struct {
	idle  float64
	total float64
	valid bool
}

// NewCPUTracker primes the tracker with an initial sample.
func NewCPUTracker() *CPUTracker {
	t := &CPUTracker{}
	t.last = readCPUSample()
	return t
}

// Percent returns CPU usage since the previous call, in [0, 100].
func (t *CPUTracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := readCPUSample()
	previous := t.last
	t.last = current

	if !current.valid || !previous.valid {
		return 0
	}
	totalDelta := current.total - previous.total
	idleDelta := current.idle - previous.idle
	if totalDelta <= 0 {
		return 0
	}
	usage := 100 * (totalDelta - idleDelta) / totalDelta
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

func readCPUSample() cpuSample {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuSample{}
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var total, idle float64
		for i, field := range fields[1:] {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			total += value
			// idle + iowait
			if i == 3 || i == 4 {
				idle += value
			}
		}
		return cpuSample{idle: idle, total: total, valid: true}
	}
	return cpuSample{}
}
