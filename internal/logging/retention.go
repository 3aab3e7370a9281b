package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const rotatedTimeLayout = "20060102-150405"

// MaxTailLines bounds how many lines Tail keeps in memory.
const MaxTailLines = 100000

// Rotate renames the log file aside when it was last written before the
// start of today, so each file covers at most one day. It runs before the
// logger opens the file. Returns the rotated path, or "" if nothing moved.
func Rotate(path string, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if !info.ModTime().Before(startOfDay) || info.Size() == 0 {
		return "", nil
	}

	rotated := path + "." + info.ModTime().Format(rotatedTimeLayout)
	if err := os.Rename(path, rotated); err != nil {
		return "", fmt.Errorf("failed to rotate log: %w", err)
	}
	return rotated, nil
}

// Prune deletes rotated log files older than retention. A zero retention
// keeps everything. The active log file is never touched.
func Prune(path string, retention time.Duration, now time.Time) ([]string, error) {
	if retention <= 0 {
		return nil, nil
	}

	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-retention)
	var removed []string
	var lastErr error
	for _, match := range matches {
		stamp := strings.TrimPrefix(match, path+".")
		ts, err := time.ParseInLocation(rotatedTimeLayout, stamp, now.Location())
		if err != nil {
			continue // Not one of ours
		}
		if ts.Before(cutoff) {
			if err := os.Remove(match); err != nil {
				lastErr = err
				continue
			}
			removed = append(removed, match)
		}
	}
	return removed, lastErr
}

// Tail writes the last n lines of the file at path to w, at most
// MaxTailLines.
func Tail(path string, n int, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if n <= 0 {
		return nil
	}

	n = min(n, MaxTailLines)

	// The ring only grows as lines arrive, so a large n on a short file
	// costs nothing up front.
	var ring []string
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) < n {
			ring = append(ring, scanner.Text())
		} else {
			ring[count%n] = scanner.Text()
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	start := 0
	if count > n {
		start = count % n
	}
	for i := range ring {
		if _, err := fmt.Fprintln(w, ring[(start+i)%len(ring)]); err != nil {
			return err
		}
	}
	return nil
}
