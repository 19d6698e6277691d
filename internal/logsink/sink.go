package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Per-port retention: at most this many .log files after a launch,
	// counting the file the launch is about to open.
	keepLogs = 10

	// Tail reads return at most this many bytes.
	maxTailBytes = 2 << 20
)

// Sink manages per-port launch log directories under <root>/<port>/.
type Sink struct {
	root string
}

// NewSink returns a sink rooted at the logs directory.
func NewSink(root string) *Sink {
	return &Sink{root: root}
}

// Root returns the logs root directory.
func (s *Sink) Root() string {
	return s.root
}

// DirFor returns the log directory of a port.
func (s *Sink) DirFor(port int) string {
	return filepath.Join(s.root, strconv.Itoa(port))
}

// Open rotates the port's log directory and opens a fresh launch log named
// by the current UTC timestamp. Rotation runs before the file is created,
// never while one is open.
func (s *Sink) Open(port int) (*LaunchLog, error) {
	dir := s.DirFor(port)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := rotate(dir); err != nil {
		return nil, err
	}

	name := logFileName(time.Now().UTC())
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &LaunchLog{
		name:   name,
		file:   file,
		writer: newLineWriter(file),
	}, nil
}

// TailResult is a bounded read from the end of a launch log.
type TailResult struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
	Content   string `json:"content"`
}

// Tail returns the last maxTailBytes of the index-th most recent log for
// the port (index 0 is the newest). Oversized files are prefixed with a
// truncation marker.
func (s *Sink) Tail(port, index int) (*TailResult, error) {
	files, err := listLogs(s.DirFor(port))
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("no log at index %d for port %d", index, port)
	}

	entry := files[index]
	file, err := os.Open(entry.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	result := &TailResult{Name: filepath.Base(entry.path), Size: entry.size}
	if entry.size > maxTailBytes {
		if _, err := file.Seek(entry.size-maxTailBytes, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek log: %w", err)
		}
		result.Truncated = true
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	if result.Truncated {
		result.Content = "[Truncated...]\n" + string(data)
	} else {
		result.Content = string(data)
	}
	return result, nil
}

// Ports lists the ports that currently have a log directory.
func (s *Sink) Ports() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read logs root: %w", err)
	}
	ports := []int{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		port, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// RemoveDir deletes a port's entire log directory. Used by the maintenance
// sweep for ports no longer in the desired set.
func (s *Sink) RemoveDir(port int) error {
	return os.RemoveAll(s.DirFor(port))
}

type logEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func listLogs(dir string) ([]logEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no logs for directory %s", dir)
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	logs := []logEntry{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logEntry{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	// Newest first; file names are timestamps, so they break mtime ties.
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].modTime.Equal(logs[j].modTime) {
			return logs[i].path > logs[j].path
		}
		return logs[i].modTime.After(logs[j].modTime)
	})
	return logs, nil
}

// rotate deletes the oldest logs so that after the caller opens one more
// file the directory holds at most keepLogs entries.
func rotate(dir string) error {
	logs, err := listLogs(dir)
	if err != nil {
		return err
	}
	for i, entry := range logs {
		if i < keepLogs-1 {
			continue
		}
		if err := os.Remove(entry.path); err != nil {
			return fmt.Errorf("failed to rotate log %s: %w", entry.path, err)
		}
	}
	return nil
}

func logFileName(ts time.Time) string {
	name := ts.Format("2006-01-02T15:04:05.000Z")
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name + ".log"
}
