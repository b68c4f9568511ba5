package notes

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/teslashibe/voicenote/pkg/voice"
)

// ToolName is the event the service emits with meeting updates.
const ToolName = "update_meeting_notes"

// Language selects the language the assistant replies in.
type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageVietnamese Language = "vi"
)

const promptBody = `I am your AI meeting assistant. I capture and organize meeting notes while you talk, calling the update_meeting_notes tool every time something new comes up:

- When you mention a participant, I add them to the attendee list right away
- When the topic of the meeting becomes clear, I update the title
- Each new discussion point goes into the notes as soon as I hear it
- Whenever a task or responsibility is mentioned, I add it to the action items

I do not wait for the end of the meeting. For best results:
- Introduce participants as they join
- Share information in small pieces
- Use phrases like "we decided to..." or "the conclusion is..." for important decisions
- Mark tasks with phrases like "needs to be done", "will handle" or "is responsible for"

I call update_meeting_notes often so no detail is missed.`

// Instructions returns the system prompt for the given reply language.
func Instructions(lang Language) string {
	switch lang {
	case LanguageVietnamese:
		return promptBody + "\n\nI understand English and Vietnamese, and I always reply in Vietnamese."
	default:
		return promptBody + "\n\nSpeak naturally and I will keep the notes current."
	}
}

// ToolSchema describes the update_meeting_notes payload.
func ToolSchema() voice.Schema {
	return voice.Schema{
		Type: "object",
		Properties: map[string]*voice.Schema{
			"attendees": {
				Type:        "array",
				Description: "Everyone taking part in the meeting",
				Items:       &voice.Schema{Type: "string"},
			},
			"meetingTitle": {
				Type:        "string",
				Description: "Short title describing the meeting topic",
			},
			"meetingNotes": {
				Type:        "string",
				Description: "Running notes of the discussion",
			},
			"actionItems": {
				Type:        "array",
				Description: "Tasks and owners agreed during the meeting",
				Items:       &voice.Schema{Type: "string"},
			},
		},
		Required: []string{"attendees", "meetingTitle", "meetingNotes", "actionItems"},
	}
}

// MeetingAgent wires a Recorder to a voice session: transcript lines and
// tool updates flow into the recorder, and the first recording status
// starts the meeting clock.
type MeetingAgent struct {
	rec    *Recorder
	lang   Language
	logger *slog.Logger

	mu       sync.Mutex
	onUpdate func(MeetingNoteData)
	onError  func(error)
}

// NewMeetingAgent creates an agent recording into rec.
func NewMeetingAgent(rec *Recorder, lang Language, logger *slog.Logger) *MeetingAgent {
	if rec == nil {
		rec = NewRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MeetingAgent{rec: rec, lang: lang, logger: logger.With("component", "notes")}
}

// Recorder returns the agent's recorder.
func (m *MeetingAgent) Recorder() *Recorder {
	return m.rec
}

// OnUpdate registers a callback run after each meeting update.
func (m *MeetingAgent) OnUpdate(fn func(MeetingNoteData)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// OnError registers a callback for backend errors.
func (m *MeetingAgent) OnError(fn func(error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// Config returns the voice configuration for a note-taking session.
func (m *MeetingAgent) Config() voice.Config {
	return voice.Config{
		Instructions: Instructions(m.lang),
		Tools: []voice.ToolRegistration{{
			Name:        ToolName,
			Description: "Update meeting notes in real-time.",
			Schema:      ToolSchema(),
			Handler:     m.handleUpdate,
		}},
		Handlers: voice.LocalHandlers{
			Writing: m.handleWriting,
			Error:   m.handleError,
		},
		Metadata: map[string]any{"agent": "meeting-notes", "language": string(m.lang)},
	}
}

// ObserveStatus starts the meeting clock on the first recording status.
func (m *MeetingAgent) ObserveStatus(s voice.ConnectionStatus) {
	if s.IsRecording && !m.rec.Started() {
		m.rec.Begin()
		m.logger.Info("meeting started")
	}
}

func (m *MeetingAgent) handleUpdate(payload map[string]any) {
	d, err := ParseMeetingNoteData(payload)
	if err != nil {
		m.logger.Warn("bad meeting update", "error", err)
		return
	}
	m.rec.UpdateMeeting(d)
	m.logger.Debug("meeting updated",
		"title", d.MeetingTitle,
		"attendees", len(d.Attendees),
		"action_items", len(d.ActionItems),
	)

	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(m.rec.Meeting())
	}
}

func (m *MeetingAgent) handleWriting(ev voice.TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	m.rec.AppendTranscript(ev.Role, text)
}

func (m *MeetingAgent) handleError(err error) {
	m.logger.Warn("voice error", "error", err)
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
