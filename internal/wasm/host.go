package wasm

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logWriter forwards guest stdout/stderr to the host logger, one entry per line.
// Emscripten builds print through fd_write, so the engine's print/printErr hooks land here.
type logWriter struct {
	logger *zap.Logger
	level  zapcore.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

// newLogWriter creates a writer that logs each complete line at level.
func newLogWriter(logger *zap.Logger, stream string, level zapcore.Level) *logWriter {
	return &logWriter{
		logger: logger.With(zap.String("stream", stream)),
		level:  level,
	}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.Write(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *logWriter) emit(line []byte) {
	if ce := w.logger.Check(w.level, string(line)); ce != nil {
		ce.Write()
	}
}
