package canbus

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benchlab/golab/comm"
)

// ErrNoLogs is returned when no file matches the log prefix
var ErrNoLogs = errors.New("no log files")

// LatestLog returns the most recently modified file whose path begins with prefix
func LatestLog(prefix string) (string, error) {
	matches, err := filepath.Glob(prefix + "*")
	if err != nil {
		return "", err
	}
	var (
		newest string
		best   os.FileInfo
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if best == nil || fi.ModTime().After(best.ModTime()) {
			newest, best = m, fi
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w matching %s*", ErrNoLogs, prefix)
	}
	return newest, nil
}

// FindInLatestLog searches the newest log under prefix for a line holding
// both msgID (with any 0x prefix removed) and payload.  The last such line
// is the payload of a pass; no match is a fail.
func FindInLatestLog(prefix, msgID, payload string) comm.Result {
	path, err := LatestLog(prefix)
	if err != nil {
		return comm.Error(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return comm.Error(err)
	}
	defer f.Close()

	id := trimHexPrefix(msgID)
	found, hit := "", false
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.Contains(line, id) && strings.Contains(line, payload) {
			found, hit = line, true
		}
	}
	if err := sc.Err(); err != nil {
		return comm.Error(fmt.Errorf("%s: %w", path, err))
	}
	if !hit {
		return comm.Fail(fmt.Sprintf("%s %s not found in %s", msgID, payload, filepath.Base(path)))
	}
	return comm.Pass(found)
}
