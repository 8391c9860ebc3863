package kvstore

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fystack/keyspace/pkg/logger"
)

// quietBadgerLogger forwards badger warnings and errors to the application
// logger and drops its chatty info/debug output.
type quietBadgerLogger struct {
	path string
}

func newQuietBadgerLogger(path string) badger.Logger {
	return &quietBadgerLogger{path: path}
}

func (ql *quietBadgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error("[BADGER] ERROR", nil, "path", ql.path, "message", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (ql *quietBadgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn("[BADGER] WARN", "path", ql.path, "message", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (ql *quietBadgerLogger) Infof(format string, args ...interface{}) {}

func (ql *quietBadgerLogger) Debugf(format string, args ...interface{}) {}
