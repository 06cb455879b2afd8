// Package command defines the typed command model and the pure transcript
// parser that produces it.
//
// Commands are immutable value objects created once per utterance cycle. They
// carry no identity beyond their cycle; execution and persistence belong to
// the executor and store layers.
package command

import "time"

// Kind discriminates the command variants.
type Kind string

const (
	KindCreateTask   Kind = "create_task"
	KindCompleteTask Kind = "complete_task"
	KindDeleteTask   Kind = "delete_task"
	KindSetTimer     Kind = "set_timer"
	KindAddListItem  Kind = "add_list_item"

	// KindUnknown means the utterance was classified as a command but no
	// pattern matched. Executors must treat it as a no-op failure with a
	// user-visible "not recognized" message, never a crash or a silent
	// success.
	KindUnknown Kind = "unknown"
)

// Priority is a task's urgency level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Command is one parsed utterance. Kind selects which fields are meaningful:
//
//	KindCreateTask:   Title, Due (optional), Priority
//	KindCompleteTask: TitleOrID
//	KindDeleteTask:   TitleOrID
//	KindSetTimer:     Duration, Label (optional)
//	KindAddListItem:  Item, ListName
//	KindUnknown:      no fields
type Command struct {
	Kind Kind

	// CreateTask
	Title    string
	Due      *time.Time
	Priority Priority

	// CompleteTask / DeleteTask
	TitleOrID string

	// SetTimer
	Duration time.Duration
	Label    string

	// AddListItem
	Item     string
	ListName string
}

// Unknown is the zero-information command returned for unparseable input.
func Unknown() Command {
	return Command{Kind: KindUnknown}
}
