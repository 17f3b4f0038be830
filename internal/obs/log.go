package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line writer. Output is one JSON object per
// line so request logs aggregate alongside the audit stream.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one line per HTTP request. Callers supply the route
// fields; ts, level and service are stamped here so every line carries
// them regardless of the call site.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = map[string]any{}
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	entry["level"] = "info"
	entry["service"] = "charterops"
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","service":"charterops","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
