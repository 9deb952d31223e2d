package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Extensions accepted from the inbox, compared case-insensitively.
var Extensions = []string{".xlsx", ".xlsm", ".csv"}

// Directories holds the three mutually exclusive states a source file can be in.
type Directories struct {
	Inbox     string
	Processed string
	Error     string
}

// EnsureDirectories creates the inbox, processed and error directories when absent.
func (d Directories) EnsureDirectories() error {
	for _, dir := range []string{d.Inbox, d.Processed, d.Error} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FindLatest returns the most recently modified spreadsheet in the inbox.
// Equal modification times are broken by the greatest file name.
func (d Directories) FindLatest() (string, bool, error) {
	entries, err := os.ReadDir(d.Inbox)
	if err != nil {
		return "", false, fmt.Errorf("error reading inbox %s: %w", d.Inbox, err)
	}

	var (
		latestName string
		latestMod  time.Time
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsSpreadsheet(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		mod := info.ModTime()
		if latestName == "" || mod.After(latestMod) || (mod.Equal(latestMod) && entry.Name() > latestName) {
			latestName = entry.Name()
			latestMod = mod
		}
	}

	if latestName == "" {
		return "", false, nil
	}
	return filepath.Join(d.Inbox, latestName), true, nil
}

// MoveToProcessed relocates path into the processed directory and returns the new path.
func (d Directories) MoveToProcessed(path string) (string, error) {
	return move(path, d.Processed)
}

// MoveToError relocates path into the error directory and returns the new path.
func (d Directories) MoveToError(path string) (string, error) {
	return move(path, d.Error)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsSpreadsheet reports whether name carries an accepted extension. Office lock
// files (~$name.xlsx) and hidden files are never spreadsheets.
func IsSpreadsheet(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, accepted := range Extensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

func move(path, targetDir string) (string, error) {
	target := filepath.Join(targetDir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = strings.TrimSuffix(target, ext) + "_" + strconv.FormatInt(time.Now().UnixNano(), 10) + ext
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to inspect %s: %w", target, err)
	}

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", path, targetDir, err)
	}
	return target, nil
}
