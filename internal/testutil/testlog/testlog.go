package testlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"raster-mirror/internal/logging"
)

func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := logging.ConfigureTests()
	logger.Info().Str("test", t.Name()).Msg("start")
	return logger
}

// Recorder captures JSON log lines so tests can count what was logged.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Capture returns a debug-level logger writing into a new Recorder.
func Capture() (zerolog.Logger, *Recorder) {
	rec := &Recorder{}
	return zerolog.New(rec).Level(zerolog.DebugLevel), rec
}

// Count returns the number of lines logged at level.
func (r *Recorder) Count(level zerolog.Level) int {
	n := 0
	for _, entry := range r.Entries() {
		if entry[zerolog.LevelFieldName] == level.String() {
			n++
		}
	}
	return n
}

// Entries decodes every captured line.
func (r *Recorder) Entries() []map[string]interface{} {
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}
