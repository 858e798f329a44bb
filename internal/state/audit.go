package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thruflo/autocoder/internal/config"
)

// Audit entry kinds.
const (
	AuditCheckpoint     = "checkpoint"
	AuditSecurityDenial = "security_denial"
	AuditFallback       = "provider_fallback"
)

// AuditEntry is one line of the append-only audit log.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	SessionID int       `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	TaskID    string    `json:"task_id,omitempty"`

	// Checkpoint fields.
	Trigger    string `json:"trigger,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ByTimeout  bool   `json:"by_timeout,omitempty"`
	Channel    string `json:"channel,omitempty"`

	// Security denial fields.
	Command string `json:"command,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// AuditLog appends JSON lines to .autocoder/logs/audit.jsonl.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// AuditPath returns the audit log location for a project.
func AuditPath(basePath string) string {
	return filepath.Join(basePath, config.DirName, "logs", "audit.jsonl")
}

// NewAuditLog returns an audit log writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Record appends an entry, stamping Time if unset.
func (a *AuditLog) Record(e AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = nowFunc()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ReadAudit returns all entries in the log. A missing log yields none.
func ReadAudit(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}
