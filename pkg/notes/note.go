// Package notes turns a voice session into a meeting note: it records the
// transcript, collects the structured updates the assistant sends through
// the update_meeting_notes tool, and saves the result to one or more sinks.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSession indicates Save was called before recording started.
var ErrNoSession = errors.New("notes: no recording session")

// TranscriptionEntry is one transcript line.
type TranscriptionEntry struct {
	Role      string        `json:"role" yaml:"role"`
	Text      string        `json:"text" yaml:"text"`
	Timestamp time.Duration `json:"timestamp" yaml:"timestamp"`
}

// MarshalJSON encodes the timestamp as milliseconds since the session began.
func (e TranscriptionEntry) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role      string `json:"role"`
		Text      string `json:"text"`
		Timestamp int64  `json:"timestamp"`
	}
	return json.Marshal(wire{Role: e.Role, Text: e.Text, Timestamp: e.Timestamp.Milliseconds()})
}

// MeetingNoteData is the payload of the update_meeting_notes tool.
type MeetingNoteData struct {
	Attendees    []string `json:"attendees" yaml:"attendees"`
	MeetingTitle string   `json:"meetingTitle" yaml:"meeting_title"`
	MeetingNotes string   `json:"meetingNotes" yaml:"meeting_notes"`
	ActionItems  []string `json:"actionItems" yaml:"action_items"`
}

// ParseMeetingNoteData decodes a tool payload.
func ParseMeetingNoteData(payload map[string]any) (MeetingNoteData, error) {
	var d MeetingNoteData
	raw, err := json.Marshal(payload)
	if err != nil {
		return d, fmt.Errorf("notes: encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("notes: decode meeting data: %w", err)
	}
	return d, nil
}

// Summary is the structured part of a note.
type Summary struct {
	Attendees   []string `json:"attendees" yaml:"attendees"`
	ActionItems []string `json:"actionItems" yaml:"action_items"`
	Notes       string   `json:"notes" yaml:"notes"`
}

// Note is a saved meeting.
type Note struct {
	ID            string               `json:"_id" yaml:"id"`
	Title         string               `json:"title" yaml:"title"`
	Content       string               `json:"content" yaml:"content"`
	MeetingTime   time.Time            `json:"meetingTime" yaml:"meeting_time"`
	Duration      int                  `json:"duration" yaml:"duration"`
	Transcription []TranscriptionEntry `json:"transcription" yaml:"transcription"`
	Recordings    []string             `json:"recordings" yaml:"recordings"`
	Summary       Summary              `json:"summary" yaml:"summary"`
	IsDeleted     bool                 `json:"isDeleted" yaml:"is_deleted"`
	CreatedBy     string               `json:"createdBy" yaml:"created_by"`
	UpdatedBy     string               `json:"updatedBy" yaml:"updated_by"`
	CreatedAt     time.Time            `json:"createdAt" yaml:"created_at"`
	UpdatedAt     time.Time            `json:"updatedAt" yaml:"updated_at"`
}

// Sink persists notes.
type Sink interface {
	// Save stores the note and returns where it went.
	Save(ctx context.Context, n Note) (string, error)

	// Name identifies the sink in logs.
	Name() string
}

// Format renders a note as plain text.
func Format(n Note) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", n.Title)
	fmt.Fprintf(&b, "Date: %s\n", n.MeetingTime.Format("Jan 2, 2006 15:04"))
	fmt.Fprintf(&b, "Duration: %s\n\n", time.Duration(n.Duration)*time.Second)

	if len(n.Summary.Attendees) > 0 {
		fmt.Fprintf(&b, "Attendees: %s\n\n", strings.Join(n.Summary.Attendees, ", "))
	}
	if n.Summary.Notes != "" {
		fmt.Fprintf(&b, "Notes\n%s\n\n", n.Summary.Notes)
	}
	if len(n.Summary.ActionItems) > 0 {
		b.WriteString("Action Items\n")
		for _, item := range n.Summary.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	if len(n.Transcription) > 0 {
		b.WriteString("Transcript\n")
		for _, e := range n.Transcription {
			fmt.Fprintf(&b, "[%s] %s: %s\n", formatOffset(e.Timestamp), e.Role, e.Text)
		}
	}
	return b.String()
}

func formatOffset(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
