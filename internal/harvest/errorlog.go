package harvest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrorLog is an append-only diagnostic file of "[timestamp] message" lines.
// Writing to it never fails the caller.
type ErrorLog struct {
	Path string
}

// Append writes one line. Failures are ignored. An empty Path disables the log.
func (l ErrorLog) Append(now time.Time, message string) {
	if l.Path == "" {
		return
	}
	message = strings.ReplaceAll(strings.TrimSpace(message), "\n", " ")
	line := fmt.Sprintf("[%s] %s\n", now.Format(time.RFC3339), message)

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
