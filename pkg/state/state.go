// Package state defines the folded state model and the pure fold that
// derives it from the event log.
package state

// Goal status values.
const (
	GoalPendingConfirm = "pending_confirm"
	GoalActive         = "active"
	GoalCompleted      = "completed"
	GoalAbandoned      = "abandoned"
)

// Task status values.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
	TaskSkipped   = "skipped"
	TaskExpired   = "expired"
)

// Profile is the evolving picture of the human the system serves.
type Profile struct {
	Occupation          string         `json:"occupation"`
	FocusArea           string         `json:"focus_area"`
	DailyHours          string         `json:"daily_hours"`
	PeakHours           []int          `json:"peak_hours"`
	Preferences         map[string]any `json:"preferences"`
	OnboardingCompleted bool           `json:"onboarding_completed"`
	// Attrs collects profile fields this build does not model yet, so
	// newer producers do not lose data through older replays.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Goal is a node in the vision / objective / goal hierarchy.
type Goal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Status      string `json:"status"`

	ParentID  string   `json:"parent_id,omitempty"`
	Horizon   string   `json:"horizon,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`

	ResourceDescription string   `json:"resource_description,omitempty"`
	TargetLevel         string   `json:"target_level,omitempty"`
	Deadline            string   `json:"deadline,omitempty"`
	Tags                []string `json:"tags,omitempty"`

	CreatedAt   string `json:"created_at,omitempty"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Task is a scheduled unit of work decomposed from a goal.
type Task struct {
	ID               string `json:"id"`
	GoalID           string `json:"goal_id"`
	Description      string `json:"description"`
	ScheduledDate    string `json:"scheduled_date"`
	ScheduledTime    string `json:"scheduled_time,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`
	SkipReason       string `json:"skip_reason,omitempty"`
}

// Execution records one attempt at a task.
type Execution struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	FeedbackType string `json:"feedback_type,omitempty"`
	ProgressNote string `json:"progress_note,omitempty"`
}

// TimeState tracks the day boundary as seen by time_tick events.
type TimeState struct {
	CurrentDate  string `json:"current_date"`
	PreviousDate string `json:"previous_date"`
}

// System holds engine bookkeeping.
type System struct {
	LastActive string `json:"last_active,omitempty"`
	Version    string `json:"version"`
}

// State is the full folded view of the event log.
type State struct {
	Profile    Profile     `json:"profile"`
	TimeState  TimeState   `json:"time_state"`
	Goals      []Goal      `json:"goals"`
	Tasks      []Task      `json:"tasks"`
	Executions []Execution `json:"executions"`
	System     System      `json:"system"`
}

// New returns the empty initial state.
func New() *State {
	return &State{
		Profile: Profile{
			Preferences: map[string]any{},
		},
		Goals:      []Goal{},
		Tasks:      []Task{},
		Executions: []Execution{},
		System:     System{Version: "2.0"},
	}
}

// GoalByID returns a pointer into the state's goal slice, or nil.
func (s *State) GoalByID(id string) *Goal {
	for i := range s.Goals {
		if s.Goals[i].ID == id {
			return &s.Goals[i]
		}
	}
	return nil
}

// TaskByID returns a pointer into the state's task slice, or nil.
func (s *State) TaskByID(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}
