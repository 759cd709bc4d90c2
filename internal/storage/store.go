// Package storage keeps the incubator's daily telemetry CSV files in a
// data directory. It is the only code that touches those files directly.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/incubator.report/internal/fsutil"
	"github.com/banshee-data/incubator.report/internal/security"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// Capture modes, as they appear in file names.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

var (
	ErrInvalidName = errors.New("invalid telemetry file name")
	ErrNotFound    = errors.New("telemetry file not found")
)

// FileInfo describes one stored telemetry file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	RowCount int       `json:"rowCount"`
	Mode     string    `json:"mode"`
	Date     time.Time `json:"date"`
	Modified time.Time `json:"modified"`
}

// Covers returns the day span [Date, Date+24h) the file's rows belong to.
func (f FileInfo) Covers() (time.Time, time.Time) {
	return f.Date, f.Date.Add(24 * time.Hour)
}

// FileName builds the stored name for the given capture mode and day.
func FileName(mode string, day time.Time) string {
	return fmt.Sprintf("incubator_%s_%s.csv", mode, timeutil.DayKey(day))
}

// Store is a directory of daily telemetry files. Writes are serialised
// within the process.
type Store struct {
	fs    fsutil.FileSystem
	dir   string
	clock timeutil.Clock

	mu sync.Mutex
}

// New returns a store rooted at dir, creating the directory if needed.
func New(fsys fsutil.FileSystem, dir string, clock timeutil.Clock) (*Store, error) {
	if err := fsys.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &Store{fs: fsys, dir: dir, clock: clock}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) (string, error) {
	if err := security.ValidateStorageName(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return filepath.Join(s.dir, name), nil
}

// ListFiles returns the stored telemetry files sorted by name. Files whose
// names do not follow the storage pattern are ignored.
func (s *Store) ListFiles() ([]FileInfo, error) {
	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	var out []FileInfo
	for _, info := range infos {
		mode, day, err := security.ParseStorageName(info.Name())
		if err != nil {
			continue
		}
		fi := FileInfo{
			Name:     info.Name(),
			Size:     info.Size(),
			Mode:     mode,
			Date:     day,
			Modified: info.ModTime(),
		}
		if data, err := s.fs.ReadFile(filepath.Join(s.dir, info.Name())); err == nil {
			fi.RowCount = countRows(string(data))
		}
		out = append(out, fi)
	}
	return out, nil
}

// countRows counts non-blank lines after the header.
func countRows(content string) int {
	n := 0
	headerSeen := false
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		n++
	}
	return n
}

// ReadFile returns the full text of a stored file.
func (s *Store) ReadFile(name string) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

// DeleteFile removes a stored file.
func (s *Store) DeleteFile(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// DeleteFilesOlderThan removes every file whose day is more than days full
// days before today (UTC) and returns how many were removed.
func (s *Store) DeleteFilesOlderThan(days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", days)
	}
	cutoff := timeutil.StartOfDay(s.clock.Now()).AddDate(0, 0, -days)
	files, err := s.ListFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, f := range files {
		if !f.Date.Before(cutoff) {
			continue
		}
		if err := s.DeleteFile(f.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// InitFile creates name with the given header line. It does nothing when
// the file already exists.
func (s *Store) InitFile(name, header string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fs.Exists(p) {
		return nil
	}
	if err := s.fs.WriteFile(p, []byte(strings.TrimRight(header, "\n")+"\n"), filePerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	return nil
}

// AppendRows appends data lines to name. The file must have been created
// with InitFile.
func (s *Store) AppendRows(name string, rows []string) error {
	if len(rows) == 0 {
		return nil
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.TrimRight(r, "\r\n"))
		b.WriteByte('\n')
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fs.Exists(p) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := s.fs.AppendFile(p, []byte(b.String()), filePerm); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}
