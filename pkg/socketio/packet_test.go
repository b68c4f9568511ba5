package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func intPtr(i int) *int { return &i }

func TestPacket_Encode(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		want string
	}{
		{"connect with auth", Packet{Type: PacketConnect, Namespace: "/voice", Data: json.RawMessage(`{"token":"t"}`)}, `0/voice,{"token":"t"}`},
		{"connect default namespace", Packet{Type: PacketConnect, Namespace: "/"}, `0`},
		{"disconnect", Packet{Type: PacketDisconnect, Namespace: "/voice"}, `1/voice,`},
		{"event", Packet{Type: PacketEvent, Data: json.RawMessage(`["a",1]`)}, `2["a",1]`},
		{"ack with id", Packet{Type: PacketAck, Namespace: "/voice", ID: intPtr(12), Data: json.RawMessage(`["ok"]`)}, `3/voice,12["ok"]`},
		{"binary event", Packet{Type: PacketBinaryEvent, Namespace: "/voice", Attachments: 1, Data: json.RawMessage(`["audio",{"_placeholder":true,"num":0}]`)}, `51-/voice,["audio",{"_placeholder":true,"num":0}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Encode(); got != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		in          string
		typ         PacketType
		ns          string
		id          *int
		attachments int
		data        string
	}{
		{`0/voice,{"sid":"abc"}`, PacketConnect, "/voice", nil, 0, `{"sid":"abc"}`},
		{`0{"sid":"abc"}`, PacketConnect, "/", nil, 0, `{"sid":"abc"}`},
		{`1/voice,`, PacketDisconnect, "/voice", nil, 0, ``},
		{`1/voice`, PacketDisconnect, "/voice", nil, 0, ``},
		{`2/voice,["writing",{"role":"user","text":"hi"}]`, PacketEvent, "/voice", nil, 0, `["writing",{"role":"user","text":"hi"}]`},
		{`3/voice,7["ok"]`, PacketAck, "/voice", intPtr(7), 0, `["ok"]`},
		{`4/voice,{"message":"unauthorized"}`, PacketConnectError, "/voice", nil, 0, `{"message":"unauthorized"}`},
		{`52-["speaker",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`, PacketBinaryEvent, "/", nil, 2, `["speaker",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := DecodePacket(tt.in)
			if err != nil {
				t.Fatalf("DecodePacket failed: %v", err)
			}
			if p.Type != tt.typ {
				t.Errorf("Type = %v, want %v", p.Type, tt.typ)
			}
			if p.Namespace != tt.ns {
				t.Errorf("Namespace = %q, want %q", p.Namespace, tt.ns)
			}
			if (p.ID == nil) != (tt.id == nil) || (p.ID != nil && *p.ID != *tt.id) {
				t.Errorf("ID = %v, want %v", p.ID, tt.id)
			}
			if p.Attachments != tt.attachments {
				t.Errorf("Attachments = %d, want %d", p.Attachments, tt.attachments)
			}
			if string(p.Data) != tt.data {
				t.Errorf("Data = %s, want %s", p.Data, tt.data)
			}
		})
	}
}

func TestDecodePacket_Malformed(t *testing.T) {
	for _, in := range []string{"", "9", "5x-[]", `2/voice,{not json`, `59000000000000000-/voice,["speaker",{"_placeholder":true,"num":0}]`, `517-["speaker"]`} {
		if _, err := DecodePacket(in); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("DecodePacket(%q): expected ErrMalformedPacket, got %v", in, err)
		}
	}
}

func TestEncodeEvent_Binary(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	p, att, err := EncodeEvent("/voice", "audio", pcm)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if p.Type != PacketBinaryEvent || p.Attachments != 1 {
		t.Fatalf("Expected one-attachment BINARY_EVENT, got %v/%d", p.Type, p.Attachments)
	}
	if want := `51-/voice,["audio",{"_placeholder":true,"num":0}]`; p.Encode() != want {
		t.Errorf("Encode() = %s, want %s", p.Encode(), want)
	}
	if len(att) != 1 || !bytes.Equal(att[0], pcm) {
		t.Errorf("Unexpected attachments: %v", att)
	}
}

func TestEncodeEvent_Nested(t *testing.T) {
	p, att, err := EncodeEvent("/", "speaker", map[string]any{"data": []byte{9}, "seq": 1})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if len(att) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(att))
	}

	ev, err := ParseEvent(p, att)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	v, err := ev.Value(0)
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Expected object, got %T", v)
	}
	if b, ok := m["data"].([]byte); !ok || !bytes.Equal(b, []byte{9}) {
		t.Errorf("Expected placeholder to resolve to attachment, got %v", m["data"])
	}
}

func TestEncodeEvent_Text(t *testing.T) {
	p, att, err := EncodeEvent("/voice", "stop")
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if p.Type != PacketEvent || len(att) != 0 {
		t.Errorf("Expected plain EVENT without attachments")
	}
	if want := `2/voice,["stop"]`; p.Encode() != want {
		t.Errorf("Encode() = %s, want %s", p.Encode(), want)
	}
}

func TestParseEvent(t *testing.T) {
	p, err := DecodePacket(`2/voice,["writing",{"role":"assistant","text":"ok"}]`)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	ev, err := ParseEvent(p, nil)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.Name != "writing" || len(ev.Args) != 1 {
		t.Fatalf("Unexpected event: %+v", ev)
	}

	var w struct{ Role, Text string }
	if err := ev.Decode(0, &w); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if w.Role != "assistant" || w.Text != "ok" {
		t.Errorf("Unexpected payload: %+v", w)
	}
	if err := ev.Decode(1, &w); err == nil {
		t.Error("Expected error decoding a missing argument")
	}

	if _, err := ParseEvent(Packet{Data: json.RawMessage(`[]`)}, nil); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Expected ErrMalformedPacket for empty array, got %v", err)
	}
}
