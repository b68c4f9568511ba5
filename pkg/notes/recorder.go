package notes

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder buffers one meeting: the transcript and the latest meeting data.
// It is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	now        func() time.Time
	start      time.Time
	transcript []TranscriptionEntry
	meeting    MeetingNoteData
}

// NewRecorder creates an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Begin starts a meeting, discarding anything buffered. It is a no-op while
// a meeting is in progress.
func (r *Recorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.start.IsZero() {
		return
	}
	r.start = r.now()
	r.transcript = nil
	r.meeting = MeetingNoteData{}
}

// Started reports whether a meeting is in progress.
func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.start.IsZero()
}

// AppendTranscript adds a line stamped relative to the meeting start.
func (r *Recorder) AppendTranscript(role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var offset time.Duration
	if !r.start.IsZero() {
		offset = r.now().Sub(r.start)
	}
	r.transcript = append(r.transcript, TranscriptionEntry{Role: role, Text: text, Timestamp: offset})
}

// UpdateMeeting merges the non-empty fields of d into the meeting data.
func (r *Recorder) UpdateMeeting(d MeetingNoteData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Attendees != nil {
		r.meeting.Attendees = d.Attendees
	}
	if d.MeetingTitle != "" {
		r.meeting.MeetingTitle = d.MeetingTitle
	}
	if d.MeetingNotes != "" {
		r.meeting.MeetingNotes = d.MeetingNotes
	}
	if d.ActionItems != nil {
		r.meeting.ActionItems = d.ActionItems
	}
}

// Meeting returns the current meeting data.
func (r *Recorder) Meeting() MeetingNoteData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meeting
}

// Transcript returns a copy of the buffered transcript.
func (r *Recorder) Transcript() []TranscriptionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscriptionEntry(nil), r.transcript...)
}

// Save builds the note and resets the recorder for the next meeting.
func (r *Recorder) Save(createdBy string) (Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		return Note{}, ErrNoSession
	}

	now := r.now()
	m := r.meeting
	title := m.MeetingTitle
	if title == "" {
		title = "Meeting " + r.start.Format("Jan 2, 2006")
	}
	attendees := m.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	actions := m.ActionItems
	if actions == nil {
		actions = []string{}
	}
	transcript := r.transcript
	if transcript == nil {
		transcript = []TranscriptionEntry{}
	}

	n := Note{
		ID:            uuid.NewString(),
		Title:         title,
		Content:       m.MeetingNotes,
		MeetingTime:   r.start,
		Duration:      int(now.Sub(r.start) / time.Second),
		Transcription: transcript,
		Recordings:    []string{},
		Summary: Summary{
			Attendees:   attendees,
			ActionItems: actions,
			Notes:       m.MeetingNotes,
		},
		CreatedBy: createdBy,
		UpdatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.start = time.Time{}
	r.transcript = nil
	r.meeting = MeetingNoteData{}
	return n, nil
}
