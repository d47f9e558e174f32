package instance

import "time"

// TaskKind distinguishes how a task's resources were acquired.
type TaskKind string

const (
	TaskReserved             TaskKind = "Reserved"             // resources held but not running (stateful apps)
	TaskLaunchedEphemeral    TaskKind = "LaunchedEphemeral"
	TaskLaunchedOnReservation TaskKind = "LaunchedOnReservation"
)

// NetworkInfo carries the IP addresses and host ports assigned to a
// task by the matcher.
type NetworkInfo struct {
	IPAddresses []string
	HostPorts   []*int // positional, one per declared port; nil entry for container-only ports
}

// TaskStatus is the executor-level status of a single task.
type TaskStatus struct {
	StagedAt    time.Time
	StartedAt   *time.Time
	LastReason  string // raw status-update reason, e.g. "TASK_RUNNING"
	Condition   Condition
	Network     NetworkInfo
}

// Task is a single executor-level workload belonging to an instance.
type Task struct {
	ID               string
	Kind             TaskKind
	Status           TaskStatus
	ReservationLabel string   // non-empty for Reserved/LaunchedOnReservation tasks
	PersistentVolumeIDs []string
}

// StatusReasonToCondition maps the subset of external status-update
// reasons the core relies upon (spec section "External interfaces").
var StatusReasonToCondition = map[string]Condition{
	"TASK_RUNNING":     Running,
	"TASK_FINISHED":    Finished,
	"TASK_FAILED":      Failed,
	"TASK_KILLED":      Killed,
	"TASK_KILLING":     Killing,
	"TASK_LOST":        Unreachable,
	"TASK_UNREACHABLE": Unreachable,
	"TASK_ERROR":       Error,
	"TASK_GONE":        Gone,
	"TASK_DROPPED":     Dropped,
	"TASK_STAGING":     Staging,
	"TASK_STARTING":    Starting,
}

// ConditionForReason looks up the condition for a raw status-update
// reason, returning Unknown for anything unrecognized.
func ConditionForReason(reason string) Condition {
	if c, ok := StatusReasonToCondition[reason]; ok {
		return c
	}
	return Unknown
}
