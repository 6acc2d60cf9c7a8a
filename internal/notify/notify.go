// Package notify is the outbound contract for execution events and named
// metrics. The core emits; storage and rendering live elsewhere.
package notify

import (
	"log"
	"strconv"

	"github.com/metorial/scriptforge/internal/models"
)

type Sink interface {
	ExecutionStatusChanged(exec *models.Execution)
	ExecutionCompleted(exec *models.Execution)
	RecordMetric(name string, value float64, category, unit string)
}

// LogSink writes events to the process log. It is the default sink when
// no external collector is wired in.
type LogSink struct{}

func (LogSink) ExecutionStatusChanged(exec *models.Execution) {
	log.Printf("Execution %s is %s", exec.ID, exec.Status)
}

func (LogSink) ExecutionCompleted(exec *models.Execution) {
	code := "none"
	if exec.ExitCode != nil {
		code = strconv.Itoa(*exec.ExitCode)
	}
	log.Printf("Execution %s finished %s (exit=%s, duration=%dms)", exec.ID, exec.Status, code, exec.DurationMS)
}

func (LogSink) RecordMetric(name string, value float64, category, unit string) {
	log.Printf("Metric %s/%s: %.2f %s", category, name, value, unit)
}
