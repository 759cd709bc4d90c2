package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// storageName matches the only file names the telemetry store will read,
// write or delete: incubator_<mode>_<YYYY-MM-DD>.csv.
var storageName = regexp.MustCompile(`^incubator_(live|simulated)_(\d{4}-\d{2}-\d{2})\.csv$`)

// ParseStorageName validates a telemetry file name taken from a request and
// returns its capture mode and day. Anything that could address a file
// outside the data directory fails the pattern.
func ParseStorageName(name string) (mode string, day time.Time, err error) {
	m := storageName.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("invalid telemetry file name %q", name)
	}
	day, err = time.ParseInLocation("2006-01-02", m[2], time.UTC)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid date in file name %q: %w", name, err)
	}
	return m[1], day, nil
}

// ValidateStorageName reports whether name is an acceptable telemetry file
// name.
func ValidateStorageName(name string) error {
	_, _, err := ParseStorageName(name)
	return err
}

// ValidatePathWithinDirectory checks that filePath, once cleaned and made
// absolute, does not escape dir. Symlinks are resolved where they exist.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	} else if parent, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(parent, filepath.Base(absPath))
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, dir)
	}
	return nil
}

// SanitizeFilename makes a safe file name fragment from an arbitrary string
// such as a plate barcode. Characters other than ASCII letters, digits, dot,
// underscore and dash become a single underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
