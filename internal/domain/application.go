package domain

import (
	"time"
)

// Application is an event-booking request moving through the approval workflow.
// The rule engine reads it and never mutates it.
type Application struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// SubmittedAt is set once at creation. The zero value is treated as a
	// missing timestamp by date checks.
	SubmittedAt time.Time `json:"submittedAt"`

	// Windows are the scheduled (start, end) pairs, ordered by start.
	Windows []ScheduleWindow `json:"windows"`

	// Roles holds participatory role IDs.
	Roles []string `json:"roles"`

	ParticipantCount int `json:"participantCount"`

	// StatusID is the stored approval status. Only the workflow changes it.
	StatusID string `json:"statusId"`

	CreatedAt time.Time `json:"createdAt"`
}

// ScheduleWindow is one scheduled slot of an event.
type ScheduleWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowStarts returns the start timestamps of all windows in order.
func (a *Application) WindowStarts() []time.Time {
	starts := make([]time.Time, len(a.Windows))
	for i, w := range a.Windows {
		starts[i] = w.Start
	}
	return starts
}

// ApplicationRequest is the API payload for submitting an application.
type ApplicationRequest struct {
	Title            string          `json:"title" validate:"required,max=256"`
	Description      string          `json:"description"`
	Windows          []WindowRequest `json:"windows" validate:"dive"`
	Roles            []string        `json:"roles" validate:"dive,required"`
	ParticipantCount int             `json:"participantCount" validate:"gte=0"`
	StatusID         string          `json:"statusId,omitempty"`
}

// WindowRequest is a scheduled window in an ApplicationRequest.
type WindowRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtefield=Start"`
}

// ToApplication converts a request to an Application stamped with the
// submission time. The caller assigns the ID and default status.
func (r *ApplicationRequest) ToApplication() *Application {
	now := time.Now().UTC()
	windows := make([]ScheduleWindow, len(r.Windows))
	for i, w := range r.Windows {
		windows[i] = ScheduleWindow{Start: w.Start.UTC(), End: w.End.UTC()}
	}
	return &Application{
		Title:            r.Title,
		Description:      r.Description,
		SubmittedAt:      now,
		Windows:          windows,
		Roles:            r.Roles,
		ParticipantCount: r.ParticipantCount,
		StatusID:         r.StatusID,
		CreatedAt:        now,
	}
}

// ApplicationFilter narrows application listings. Zero fields match everything.
// Year and Month select applications with at least one window starting in
// that period.
type ApplicationFilter struct {
	Year  int
	Month int
	Limit int
}
