package builds

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Store is an on-disk directory of extracted build versions. Each child
// directory of the root is one version.
type Store struct {
	root string
}

// NewStore creates the build root if needed and returns a store over it.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create builds directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the build root directory.
func (s *Store) Root() string {
	return s.root
}

// VersionDir returns the directory of a build version.
func (s *Store) VersionDir(version string) string {
	return filepath.Join(s.root, version)
}

// Ingest extracts an uploaded archive stream under <root>/<version>/.
// The stream is staged to a temp file first (zip needs random access);
// the temp file is removed on success. A failed extract may leave a
// partial version tree behind; re-uploads overwrite and Purge cleans up.
func (s *Store) Ingest(r io.Reader, filename, version string) error {
	if !validVersion(version) {
		return fmt.Errorf("invalid build version: %q", version)
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to stage archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}

	destDir := s.VersionDir(version)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		err = untarGzToDir(tmpPath, destDir)
	default:
		err = unzipToDir(tmpPath, destDir)
	}
	if err != nil {
		return err
	}

	if exe, ok := s.FindExecutable(version); ok {
		if err := os.Chmod(exe, 0755); err != nil {
			return fmt.Errorf("failed to mark executable: %w", err)
		}
	}

	return nil
}

// FindExecutable walks <root>/<version>/ depth-first and returns the first
// regular file that looks like a server binary: name not containing
// "UnityCrashHandler" and ending with ".exe" or ".x86_64".
func (s *Store) FindExecutable(version string) (string, bool) {
	if !validVersion(version) {
		return "", false
	}
	root := s.VersionDir(version)
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if isServerExecutable(d.Name()) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", false
	}
	return found, true
}

// List returns the version directory names under the build root, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read builds directory: %w", err)
	}
	versions := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Purge removes every version directory whose name is not in the inUse
// set and returns the removed names. Callers snapshot the running-version
// set before calling so a concurrently spawned child cannot lose its build.
func (s *Store) Purge(inUse map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read builds directory: %w", err)
	}

	purged := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if inUse[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return purged, fmt.Errorf("failed to remove build %s: %w", name, err)
		}
		purged = append(purged, name)
	}
	return purged, nil
}

// validVersion rejects names that would escape (or resolve to) the build
// root when joined onto it.
func validVersion(version string) bool {
	if strings.TrimSpace(version) == "" {
		return false
	}
	if strings.ContainsAny(version, "/\\") || version == "." || version == ".." {
		return false
	}
	return true
}

func isServerExecutable(name string) bool {
	if strings.Contains(name, "UnityCrashHandler") {
		return false
	}
	return strings.HasSuffix(name, ".exe") || strings.HasSuffix(name, ".x86_64")
}

func unzipToDir(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		cleanName := filepath.Clean(f.Name)
		targetPath := filepath.Join(destDir, cleanName)
		if !strings.HasPrefix(targetPath, destDir+string(os.PathSeparator)) && targetPath != destDir {
			return fmt.Errorf("invalid zip path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return fmt.Errorf("failed to create dir: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return fmt.Errorf("failed to create parent dir: %w", err)
		}

		src, err := f.Open()
		if err != nil {
			return err
		}

		out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}

		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			src.Close()
			return err
		}
		out.Close()
		src.Close()
	}

	return nil
}

func untarGzToDir(archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		cleanName := filepath.Clean(header.Name)
		targetPath := filepath.Join(destDir, cleanName)
		if !strings.HasPrefix(targetPath, destDir+string(os.PathSeparator)) && targetPath != destDir {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return fmt.Errorf("failed to create dir: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("failed to create parent dir: %w", err)
			}
			out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
