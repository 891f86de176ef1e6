package types

import (
	"fmt"
	"slices"
	"time"
)

// JobStatus is shared by tasks and jobs
type JobStatus string

const (
	StatusCreated JobStatus = "created"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
	StatusAborted JobStatus = "aborted"
	StatusLocked  JobStatus = "locked"
)

// Terminal reports whether no further transition can happen
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusAborted
}

// HCEntry is one requested placement, by id
type HCEntry struct {
	HostID      int64 `json:"host_id"`
	ServiceID   int64 `json:"service_id"`
	ComponentID int64 `json:"component_id"`
}

// Key returns the placement key
func (e HCEntry) Key() HCKey {
	return HCKey{HostID: e.HostID, ServiceID: e.ServiceID, ComponentID: e.ComponentID}
}

// TaskLog is one run of an action against an entity
type TaskLog struct {
	ID       int64
	ActionID int64
	Object   ObjectRef
	Selector map[ObjectType]int64
	Config   map[string]any `json:",omitempty"`
	Attr     map[string]any `json:",omitempty"`
	Verbose  bool

	// Old holds the host-component map taken before the task applied New.
	Old       []HCEntry `json:",omitempty"`
	New       []HCEntry `json:",omitempty"`
	AppliedHC bool      // the task replaced the cluster map with New

	Status     JobStatus
	PID        int
	LockID     int64
	StartDate  time.Time
	FinishDate time.Time
}

// Normalize restores integer values after a JSON round trip
func (t *TaskLog) Normalize() {
	t.Config = NormalizeMap(t.Config)
	t.Attr = NormalizeMap(t.Attr)
}

// JobLog is one externally executed step of a task
type JobLog struct {
	ID          int64
	TaskID      int64
	ActionID    int64
	SubActionID int64
	Name        string
	Status      JobStatus
	PID         int
	ExitCode    int
	StartDate   time.Time
	FinishDate  time.Time
	LogFiles    []string `json:",omitempty"`
}

// LogType classifies stored job output
type LogType string

const (
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
	LogCheck  LogType = "check"
	LogCustom LogType = "custom"
)

// LogStorage is one captured output stream of a job
type LogStorage struct {
	ID     int64
	JobID  int64
	Name   string
	Type   LogType
	Format string // txt or json
	Body   string
}

// ConcernType classifies concern items
type ConcernType string

const (
	ConcernLock  ConcernType = "lock"
	ConcernIssue ConcernType = "issue"
	ConcernFlag  ConcernType = "flag"
)

// ConcernCause is what raised a concern
type ConcernCause string

const (
	CauseConfig        ConcernCause = "config"
	CauseJob           ConcernCause = "job"
	CauseHostComponent ConcernCause = "host-component"
	CauseImport        ConcernCause = "import"
	CauseService       ConcernCause = "service"
)

// Placeholder fills one ${name} slot of a concern message
type Placeholder struct {
	Type ObjectType `json:"type,omitempty"`
	Name string     `json:"name"`
	IDs  map[ObjectType]int64
}

// Reason is a message template plus its placeholders
type Reason struct {
	Message     string
	Placeholder map[string]Placeholder
}

// ConcernItem is a lock, issue or flag owned by one entity and attached to
// an affected set of entities
type ConcernItem struct {
	ID       int64
	Type     ConcernType
	Name     string
	Reason   Reason
	Blocking bool
	Owner    ObjectRef
	Cause    ConcernCause
	Related  []ObjectRef
}

// Affects reports whether ref is in the affected set
func (c *ConcernItem) Affects(ref ObjectRef) bool {
	return slices.Contains(c.Related, ref)
}

// EventType is the kind of a change notification
type EventType string

const (
	EventCreate                 EventType = "create"
	EventDelete                 EventType = "delete"
	EventAdd                    EventType = "add"
	EventRemove                 EventType = "remove"
	EventChangeConfig           EventType = "change_config"
	EventChangeState            EventType = "change_state"
	EventChangeJobStatus        EventType = "change_job_status"
	EventChangeHostComponentMap EventType = "change_hostcomponentmap"
	EventConcern                EventType = "concern"
	EventUpgrade                EventType = "upgrade"
)

// EventDetails describes what changed
type EventDetails struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
	ID    string `json:"id,omitempty"`
}

// EventObject is the entity an event is about. Type is an ObjectType or
// "task"/"job".
type EventObject struct {
	Type    string       `json:"type"`
	ID      int64        `json:"id"`
	Details EventDetails `json:"details"`
}

// Event is the change notification body posted to the status server
type Event struct {
	Event  EventType   `json:"event"`
	Object EventObject `json:"object"`
}

// NewEvent builds an event about an entity
func NewEvent(kind EventType, ref ObjectRef, details EventDetails) *Event {
	return &Event{Event: kind, Object: EventObject{Type: string(ref.Type), ID: ref.ID, Details: details}}
}

// String renders the event for logs
func (e *Event) String() string {
	return fmt.Sprintf("%s %s #%d %s=%s", e.Event, e.Object.Type, e.Object.ID, e.Object.Details.Type, e.Object.Details.Value)
}
