// Package voice streams microphone audio to a real-time voice service and
// routes the service's events back to the caller.
//
// An Assistant owns one connection to the service's /voice Socket.IO
// namespace, the microphone for the active session, and the tool handlers
// of one Config. Its progress is reported as a ConnectionStatus value:
//
//	idle → connecting → connected → session_starting → session_active → recording ⇄ paused
//	                                                                  ↘ disconnected
//
// # Usage
//
//	a, err := voice.New(voice.Config{
//	    Instructions: "You take meeting notes.",
//	    Tools: []voice.ToolRegistration{{
//	        Name:        "update_meeting_notes",
//	        Description: "Update the meeting notes",
//	        Schema:      schema,
//	        Handler: func(payload map[string]any) {
//	            fmt.Println(payload["meetingTitle"])
//	        },
//	    }},
//	}, voice.WithURL("http://localhost:3001"), voice.WithToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	a.OnStatusChange(func(s voice.ConnectionStatus) {
//	    fmt.Println(s.State, s.Error)
//	})
//
//	if err := a.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Disconnect()
//
//	// Recording starts when the service acknowledges the session.
//	if err := a.StartSession(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Audio
//
// Captured frames are resampled to 24 kHz, encoded as little-endian PCM16
// and sent as binary audio events in capture order. Sending never blocks the
// capture path; a frame that does not fit the outbound queue is dropped and
// counted. Clock drift between the capture device and the service is not
// corrected.
//
// # Testing
//
// MockTransport and MockDialer stand in for the service, and
// audioio.MockCapture for the microphone:
//
//	d := &voice.MockDialer{}
//	a, _ := voice.New(cfg,
//	    voice.WithToken("t"),
//	    voice.WithTransportFactory(d.Factory),
//	    voice.WithCaptureFactory(mockFactory),
//	)
//	a.Connect(ctx)
//	d.Last().SimulateConnected(nil)
package voice
