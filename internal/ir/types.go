package ir

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// TriggerMode governs what happens when a dependency is dispatched while a
// previous invocation of it is still running.
type TriggerMode string

const (
	TriggerModeOnce       TriggerMode = "once"
	TriggerModeMultiple   TriggerMode = "multiple"
	TriggerModeAlwaysLast TriggerMode = "always_last"
)

// ValidTriggerModes defines allowed trigger modes.
var ValidTriggerModes = map[TriggerMode]bool{
	TriggerModeOnce:       true,
	TriggerModeMultiple:   true,
	TriggerModeAlwaysLast: true,
}

// ConnectionType is the transport shape results arrive on.
type ConnectionType string

const (
	// ConnectionStream is a long-lived bidirectional stream that accepts chunks.
	ConnectionStream ConnectionType = "stream"
	// ConnectionSSE is a unidirectional server-push sequence.
	ConnectionSSE ConnectionType = "sse"
)

// TriggerCondition selects when a chained dependency fires.
type TriggerCondition string

const (
	ConditionSuccess TriggerCondition = "success"
	ConditionFailure TriggerCondition = "failure"
	ConditionAll     TriggerCondition = "all"
)

// Target is a (component id, event name) pair that triggers a dependency.
// On the wire it is a two element array: [12, "click"].
type Target struct {
	ComponentID int    `json:"component_id" yaml:"component_id"`
	Event       string `json:"event" yaml:"event"`
}

// Key returns the event index key "{event}-{component}".
func (t Target) Key() string {
	return EventKey(t.Event, t.ComponentID)
}

// EventKey builds the key used to index dependencies by triggering event.
func EventKey(event string, componentID int) string {
	return event + "-" + strconv.Itoa(componentID)
}

// MarshalJSON encodes a target as [id, "event"].
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.ComponentID, t.Event})
}

// UnmarshalJSON accepts both [id, "event"] and {"component_id":…, "event":…}.
func (t *Target) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("target: expected [id, event], got %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &t.ComponentID); err != nil {
			return fmt.Errorf("target id: %w", err)
		}
		if err := json.Unmarshal(pair[1], &t.Event); err != nil {
			return fmt.Errorf("target event: %w", err)
		}
		return nil
	}

	type plain Target
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	*t = Target(p)
	return nil
}

// Declaration is the raw dependency declaration sent by the backend at
// startup or inside a render payload.
type Declaration struct {
	ID                   int            `json:"id" yaml:"id"`
	Targets              []Target       `json:"targets" yaml:"targets"`
	Inputs               []int          `json:"inputs" yaml:"inputs"`
	Outputs              []int          `json:"outputs" yaml:"outputs"`
	Cancels              []int          `json:"cancels,omitempty" yaml:"cancels,omitempty"`
	TriggerMode          TriggerMode    `json:"trigger_mode,omitempty" yaml:"trigger_mode,omitempty"`
	ConnectionType       ConnectionType `json:"connection,omitempty" yaml:"connection,omitempty"`
	Backend              bool           `json:"backend_fn" yaml:"backend_fn"`
	JS                   string         `json:"js,omitempty" yaml:"js,omitempty"`
	JSImplementation     string         `json:"js_implementation,omitempty" yaml:"js_implementation,omitempty"`
	TriggerAfter         *int           `json:"trigger_after,omitempty" yaml:"trigger_after,omitempty"`
	TriggerOnlyOnSuccess bool           `json:"trigger_only_on_success,omitempty" yaml:"trigger_only_on_success,omitempty"`
	TriggerOnlyOnFailure bool           `json:"trigger_only_on_failure,omitempty" yaml:"trigger_only_on_failure,omitempty"`
	EventArgs            map[string]any `json:"event_specific_args,omitempty" yaml:"event_specific_args,omitempty"`
	RenderID             *int           `json:"rendered_in,omitempty" yaml:"rendered_in,omitempty"`
	ShowProgress         *bool          `json:"show_progress,omitempty" yaml:"show_progress,omitempty"`
	APIName              string         `json:"api_name,omitempty" yaml:"api_name,omitempty"`
}

// Mode returns the trigger mode, defaulting to once.
func (d Declaration) Mode() TriggerMode {
	if d.TriggerMode == "" {
		return TriggerModeOnce
	}
	return d.TriggerMode
}

// Connection returns the connection type, defaulting to sse.
func (d Declaration) Connection() ConnectionType {
	if d.ConnectionType == "" {
		return ConnectionSSE
	}
	return d.ConnectionType
}

// Progress reports whether loading status should be shown for outputs.
func (d Declaration) Progress() bool {
	return d.ShowProgress == nil || *d.ShowProgress
}

// TriggerCondition returns the condition under which this declaration fires
// after its trigger_after dependency.
func (d Declaration) TriggerCondition() TriggerCondition {
	switch {
	case d.TriggerOnlyOnSuccess:
		return ConditionSuccess
	case d.TriggerOnlyOnFailure:
		return ConditionFailure
	default:
		return ConditionAll
	}
}

// DispatchType distinguishes direct invocations from UI events.
type DispatchType string

const (
	DispatchTypeFn    DispatchType = "fn"
	DispatchTypeEvent DispatchType = "event"
)

// DispatchEvent is the argument to Manager.Dispatch.
type DispatchEvent struct {
	Type      DispatchType `json:"type" yaml:"type"`
	FnIndex   int          `json:"fn_index,omitempty" yaml:"fn_index,omitempty"`
	EventName string       `json:"event_name,omitempty" yaml:"event_name,omitempty"`
	TargetID  *int         `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	EventData any          `json:"event_data,omitempty" yaml:"event_data,omitempty"`
}

// FnEvent builds a direct invocation event.
func FnEvent(fnIndex int, targetID *int) DispatchEvent {
	return DispatchEvent{Type: DispatchTypeFn, FnIndex: fnIndex, TargetID: targetID}
}

// UIEvent builds a UI originated event.
func UIEvent(eventName string, targetID int, eventData any) DispatchEvent {
	return DispatchEvent{Type: DispatchTypeEvent, EventName: eventName, TargetID: IntPtr(targetID), EventData: eventData}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// MessageType tags a stream message.
type MessageType string

const (
	MessageData   MessageType = "data"
	MessageStatus MessageType = "status"
	MessageRender MessageType = "render"
	MessageLog    MessageType = "log"
)

// Stage is a loading or submission stage.
type Stage string

const (
	StagePending    Stage = "pending"
	StageGenerating Stage = "generating"
	StageStreaming  Stage = "streaming"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// ValidationError is the backend verdict for a single input.
type ValidationError struct {
	IsValid bool   `json:"is_valid" yaml:"is_valid"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Status is the payload of a status message.
type Status struct {
	Stage            Stage             `json:"stage" yaml:"stage"`
	Title            string            `json:"title,omitempty" yaml:"title,omitempty"`
	Message          string            `json:"message,omitempty" yaml:"message,omitempty"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty" yaml:"validation_errors,omitempty"`
	ChangedStateIDs  []int             `json:"changed_state_ids,omitempty" yaml:"changed_state_ids,omitempty"`
	Queue            bool              `json:"queue,omitempty" yaml:"queue,omitempty"`
	Position         *int              `json:"position,omitempty" yaml:"position,omitempty"`
	Eta              *float64          `json:"eta,omitempty" yaml:"eta,omitempty"`
	Progress         []any             `json:"progress_data,omitempty" yaml:"progress,omitempty"`
}

// RenderPayload carries a partial re-render pushed by the backend.
type RenderPayload struct {
	RenderID     int           `json:"render_id" yaml:"render_id"`
	Dependencies []Declaration `json:"dependencies" yaml:"dependencies"`
	Components   []any         `json:"components,omitempty" yaml:"components,omitempty"`
	Layout       any           `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// LogLevel is the severity of a user facing log message.
type LogLevel string

const (
	LevelError   LogLevel = "error"
	LevelWarning LogLevel = "warning"
	LevelInfo    LogLevel = "info"
)

// LogMessage is forwarded to the notifier (toast) collaborator.
type LogMessage struct {
	Title    string   `json:"title" yaml:"title"`
	Message  string   `json:"message" yaml:"message"`
	FnIndex  int      `json:"fn_index" yaml:"fn_index"`
	Level    LogLevel `json:"level" yaml:"level"`
	Duration *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Visible  bool     `json:"visible" yaml:"visible"`
}

// Message is one item of a submission stream.
type Message struct {
	Type   MessageType    `json:"type" yaml:"type"`
	Data   []Output       `json:"data,omitempty" yaml:"data,omitempty"`
	Status *Status        `json:"status,omitempty" yaml:"status,omitempty"`
	Render *RenderPayload `json:"render,omitempty" yaml:"render,omitempty"`
	Log    *LogMessage    `json:"log,omitempty" yaml:"log,omitempty"`
}

// StatusUpdate is pushed to the loading-status tracker.
type StatusUpdate struct {
	FnIndex  int      `json:"fn_index"`
	Stage    Stage    `json:"stage"`
	Message  string   `json:"message,omitempty"`
	Queue    bool     `json:"queue,omitempty"`
	Position *int     `json:"position,omitempty"`
	Eta      *float64 `json:"eta,omitempty"`
	Progress []any    `json:"progress,omitempty"`
}

// APICall is the audit record of one outbound call.
type APICall struct {
	FnIndex   int    `json:"fn_index"`
	Data      []any  `json:"data"`
	EventData any    `json:"event_data"`
	TriggerID *int   `json:"trigger_id"`
	Seq       int64  `json:"seq"`
	InvokeID  string `json:"invocation_id"`
}
