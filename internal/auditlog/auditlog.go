// Package auditlog appends decision and execution records to daily JSONL
// files, independent of the database, so a full trail survives even when the
// store is repaired or rebuilt.
package auditlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var mu sync.Mutex

type DecisionEntry struct {
	Time       string  `json:"time"`
	DecisionID string  `json:"decision_id"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Eligible   bool    `json:"auto_eligible"`
}

type ExecutionEntry struct {
	Time       string `json:"time"`
	DecisionID string `json:"decision_id"`
	Symbol     string `json:"symbol"`
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Cost       string `json:"estimated_cost,omitempty"`
	Failure    string `json:"failure_reason,omitempty"`
}

func logDir() string {
	if v := os.Getenv("ASSISTANT_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(t time.Time, sub string) string {
	d := t.UTC().Format("2006-01-02")
	if sub == "" {
		return filepath.Join(logDir(), d+".jsonl")
	}
	return filepath.Join(logDir(), sub, d+".jsonl")
}

func appendLine(p string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// AppendDecision records a generated decision.
func AppendDecision(e DecisionEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format(time.RFC3339)
	return appendLine(dailyFilepath(now, "decisions"), e)
}

// AppendExecution records an order execution attempt, successful or not.
func AppendExecution(e ExecutionEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format(time.RFC3339)
	return appendLine(dailyFilepath(now, ""), e)
}

// CompressOlder gzips log files older than retentionDays.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil {
			return nil
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}
		in, e3 := os.Open(p)
		if e3 != nil {
			return nil
		}
		defer in.Close()
		out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if e4 != nil {
			return nil
		}
		gw := gzip.NewWriter(out)
		if _, e5 := io.Copy(gw, in); e5 == nil {
			_ = gw.Close()
			_ = out.Close()
			_ = os.Remove(p)
		} else {
			_ = gw.Close()
			_ = out.Close()
		}
		return nil
	})
}
