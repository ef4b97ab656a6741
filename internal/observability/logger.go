package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeStep      EventType = "step"
	EventTypePlan      EventType = "plan"
	EventTypeRelevance EventType = "relevance"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeCost      EventType = "cost"
	EventTypeReminder  EventType = "reminder"
	EventTypeNotify    EventType = "notify"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewLoggerTo writes events to out. An empty llmLogPath disables the LLM
// transcript file.
func NewLoggerTo(out io.Writer, llmLogPath string) *Logger {
	return &Logger{
		out:        out,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024,
	}
}

// Discard returns a logger that drops every event.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, "")
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": \"failed to marshal event: %v\"}", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	termMu.Lock()
	fmt.Fprintln(l.out, string(data))
	termMu.Unlock()

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogStep(chatID, runID, step, status string, elapsed time.Duration) {
	l.Log(Event{
		Type:   EventTypeStep,
		ChatID: chatID,
		RunID:  runID,
		Data: map[string]any{
			"step":       step,
			"status":     status,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

func (l *Logger) LogPlan(chatID, runID, goal string, steps []string) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		RunID:  runID,
		Data: map[string]any{
			"goal":  goal,
			"steps": steps,
		},
	})
}

// LogRelevance records a keep/drop decision for one fetched item.
func (l *Logger) LogRelevance(itemID, subject, stage string, kept bool, score float64, reason string) {
	l.Log(Event{
		Type: EventTypeRelevance,
		Data: map[string]any{
			"item_id": itemID,
			"subject": subject,
			"stage":   stage,
			"kept":    kept,
			"score":   score,
			"reason":  reason,
		},
	})
}

func (l *Logger) LogToolCall(chatID, runID, tool, args string) {
	l.Log(Event{
		Type:   EventTypeToolCall,
		ChatID: chatID,
		RunID:  runID,
		Data: map[string]string{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogCost(chatID, runID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:   EventTypeCost,
		ChatID: chatID,
		RunID:  runID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogReminder(reminderID, vendor, status, detail string) {
	l.Log(Event{
		Type: EventTypeReminder,
		Data: map[string]string{
			"reminder_id": reminderID,
			"vendor":      vendor,
			"status":      status,
			"detail":      detail,
		},
	})
}

func (l *Logger) LogNotify(chatID, channel string, sent bool, reason string) {
	l.Log(Event{
		Type:   EventTypeNotify,
		ChatID: chatID,
		Data: map[string]any{
			"channel": channel,
			"sent":    sent,
			"reason":  reason,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, runID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		RunID:  runID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
