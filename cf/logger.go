package cf

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const cfLogFileName = "cfDebug.log"

// rotatingLog is a size-capped log file with numbered backups
// (cfDebug.log, cfDebug.log.1 ... cfDebug.log.<backups>).
type rotatingLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	logger  *log.Logger
	size    int64
	maxSize int64
	backups int
}

// cfDebug is the challenge debug log; it stays closed unless debug
// logging is switched on.
var cfDebug = &rotatingLog{maxSize: 10 * 1024 * 1024, backups: 3}

// InitCFLogger opens the challenge debug log in dir. Until it is called
// every Log* helper is a no-op.
func InitCFLogger(dir string) error {
	return cfDebug.open(dir)
}

// CloseCFLogger closes the challenge debug log.
func CloseCFLogger() {
	cfDebug.close()
}

func (l *rotatingLog) open(dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create CF log dir: %w", err)
	}
	l.path = filepath.Join(dir, cfLogFileName)
	l.size = 0
	if info, err := os.Stat(l.path); err == nil {
		l.size = info.Size()
	}
	if l.size >= l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate CF logs: %w", err)
		}
	}
	return l.reopen()
}

func (l *rotatingLog) reopen() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CF log file: %w", err)
	}
	l.file = file
	l.logger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

func (l *rotatingLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file, l.logger = nil, nil
}

// rotate shifts every backup up by one, dropping the oldest. Callers hold mu.
func (l *rotatingLog) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file, l.logger = nil, nil
	}
	backup := func(n int) string { return fmt.Sprintf("%s.%d", l.path, n) }

	os.Remove(backup(l.backups))
	for n := l.backups - 1; n >= 1; n-- {
		os.Rename(backup(n), backup(n+1))
	}
	if err := os.Rename(l.path, backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.size = 0
	return nil
}

func (l *rotatingLog) printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	l.logger.Output(3, msg)
	l.size += int64(len(msg)) + 27 // timestamp and newline

	if l.size < l.maxSize {
		return
	}
	if err := l.rotate(); err != nil {
		log.Printf("[CF] ⚠️ Debug log rotation failed: %v", err)
		return
	}
	if err := l.reopen(); err != nil {
		log.Printf("[CF] ⚠️ Debug log reopen failed: %v", err)
		return
	}
	l.logger.Output(3, "=== Log Rotated ===")
}

func logCF(format string, args ...interface{}) {
	cfDebug.printf(format, args...)
}

// LogCFResponse records status, size and the challenge-relevant headers.
func LogCFResponse(statusCode int, bodySize int, headers http.Header) {
	logCF("<<< RESPONSE status=%d size=%d", statusCode, bodySize)
	for key, values := range headers {
		k := strings.ToLower(key)
		if len(values) > 0 && (strings.Contains(k, "cookie") || strings.HasPrefix(k, "cf-") || k == "server") {
			logCF("    %s: %s", key, values[0])
		}
	}
}

// LogCFDetection records what DetectBody concluded.
func LogCFDetection(detected bool, info *CfInfo) {
	if !detected || info == nil {
		logCF("=== DETECTION: none ===")
		return
	}
	logCF("=== DETECTION: challenge status=%d ray=%s bic=%v turnstile=%v ===",
		info.StatusCode, info.RayID, info.IsBIC, info.Turnstile)
	for i, indicator := range info.Indicators {
		logCF("    [%d] %s", i+1, indicator)
	}
}

// LogCFImport records a bypass data import.
func LogCFImport(domain string, success bool, err error) {
	logCF("=== IMPORT domain=%s success=%v err=%v ===", domain, success, err)
}

// LogCFBrowserAction records a browser navigation or challenge wait.
func LogCFBrowserAction(action, url string, cookiesInjected int, err error) {
	logCF("=== BROWSER %s url=%s cookies=%d err=%v ===", action, url, cookiesInjected, err)
}
