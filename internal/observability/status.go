package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle       Role = "IDLE"
	RoleExecutor   Role = "EXECUTOR"
	RoleDispatcher Role = "DISPATCHER"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentRole   Role
	ActiveTask    string
	LastHeartbeat time.Time
	// reminder deliveries since start
	Sent   int
	Failed int
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// RecordDeliveries adds the outcome of one dispatcher pass to the totals.
func RecordDeliveries(sent, failed int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Sent += sent
	globalStatus.Failed += failed
}

// Deliveries returns the reminder totals since start.
func Deliveries() (sent, failed int) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.Sent, globalStatus.Failed
}
