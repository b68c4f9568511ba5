// Package socketio implements a Socket.IO v5 client over the Engine.IO v4
// WebSocket transport, plus the packet codec shared with test servers.
//
// Only the WebSocket transport is supported; there is no HTTP long-polling
// and no upgrade dance.
package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO packet types, sent as the first byte of a text frame.
const (
	EngineOpen    byte = '0'
	EngineClose   byte = '1'
	EnginePing    byte = '2'
	EnginePong    byte = '3'
	EngineMessage byte = '4'
	EngineUpgrade byte = '5'
	EngineNoop    byte = '6'
)

// PacketType is a Socket.IO packet type.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return "UNKNOWN"
	}
}

// Packet is one Socket.IO packet. Binary attachments travel in separate
// WebSocket frames and are not part of Data.
type Packet struct {
	Type        PacketType
	Namespace   string
	ID          *int
	Attachments int
	Data        json.RawMessage
}

// Encode renders the packet in the Socket.IO string format:
// <type>[<attachments>-][<namespace>,][<id>][<data>].
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(byte('0' + p.Type))
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		b.WriteString(strconv.Itoa(p.Attachments))
		b.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.Itoa(*p.ID))
	}
	if len(p.Data) > 0 {
		b.Write(p.Data)
	}
	return b.String()
}

// MaxAttachments bounds the binary attachment count a packet may announce.
const MaxAttachments = 16

// DecodePacket parses the Socket.IO string format.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}

	p := Packet{Type: PacketType(s[0] - '0'), Namespace: "/"}
	if p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("%w: unknown type %q", ErrMalformedPacket, s[0])
	}
	i := 1

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		dash := strings.IndexByte(s[i:], '-')
		if dash < 0 {
			return Packet{}, fmt.Errorf("%w: missing attachment count", ErrMalformedPacket)
		}
		n, err := strconv.Atoi(s[i : i+dash])
		if err != nil || n < 0 || n > MaxAttachments {
			return Packet{}, fmt.Errorf("%w: bad attachment count %q", ErrMalformedPacket, s[i:i+dash])
		}
		p.Attachments = n
		i += dash + 1
	}

	if i < len(s) && s[i] == '/' {
		end := strings.IndexByte(s[i:], ',')
		if end < 0 {
			p.Namespace = s[i:]
			return p, nil
		}
		p.Namespace = s[i : i+end]
		i += end + 1
	}

	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.Atoi(s[start:i])
		if err != nil {
			return Packet{}, fmt.Errorf("%w: bad id %q", ErrMalformedPacket, s[start:i])
		}
		p.ID = &id
	}

	if i < len(s) {
		data := []byte(s[i:])
		if !json.Valid(data) {
			return Packet{}, fmt.Errorf("%w: invalid payload", ErrMalformedPacket)
		}
		p.Data = data
	}
	return p, nil
}

// placeholder marks where a binary attachment belongs in an event payload.
type placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

// EncodeEvent builds an EVENT packet, or a BINARY_EVENT packet when any
// argument is a []byte. The returned attachments must be sent as binary
// frames directly after the packet, in order.
func EncodeEvent(namespace, event string, args ...any) (Packet, [][]byte, error) {
	var attachments [][]byte
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, event)
	for _, a := range args {
		payload = append(payload, deconstruct(a, &attachments))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, nil, fmt.Errorf("socketio: encode %q: %w", event, err)
	}

	p := Packet{Type: PacketEvent, Namespace: namespace, Data: data}
	if len(attachments) > 0 {
		p.Type = PacketBinaryEvent
		p.Attachments = len(attachments)
	}
	return p, attachments, nil
}

func deconstruct(v any, attachments *[][]byte) any {
	switch t := v.(type) {
	case []byte:
		*attachments = append(*attachments, t)
		return placeholder{Placeholder: true, Num: len(*attachments) - 1}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deconstruct(e, attachments)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deconstruct(e, attachments)
		}
		return out
	default:
		return v
	}
}

// Event is a decoded EVENT or BINARY_EVENT.
type Event struct {
	Namespace   string
	Name        string
	Args        []json.RawMessage
	Attachments [][]byte
}

// ParseEvent splits an event packet's payload into name and arguments.
func ParseEvent(p Packet, attachments [][]byte) (Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(p.Data, &raw); err != nil || len(raw) == 0 {
		return Event{}, fmt.Errorf("%w: event payload is not a non-empty array", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return Event{}, fmt.Errorf("%w: event name is not a string", ErrMalformedPacket)
	}
	return Event{
		Namespace:   p.Namespace,
		Name:        name,
		Args:        raw[1:],
		Attachments: attachments,
	}, nil
}

// Decode unmarshals argument i into v.
func (e Event) Decode(i int, v any) error {
	if i >= len(e.Args) {
		return fmt.Errorf("socketio: event %q has no argument %d", e.Name, i)
	}
	return json.Unmarshal(e.Args[i], v)
}

// Value decodes argument i into generic JSON values with binary
// placeholders replaced by their []byte attachments. A missing argument
// decodes to nil.
func (e Event) Value(i int) (any, error) {
	if i >= len(e.Args) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(e.Args[i], &v); err != nil {
		return nil, fmt.Errorf("socketio: decode %q argument %d: %w", e.Name, i, err)
	}
	return reconstruct(v, e.Attachments), nil
}

func reconstruct(v any, attachments [][]byte) any {
	switch t := v.(type) {
	case map[string]any:
		if ph, ok := t["_placeholder"].(bool); ok && ph {
			if n, ok := t["num"].(float64); ok {
				if idx := int(n); idx >= 0 && idx < len(attachments) {
					return attachments[idx]
				}
			}
		}
		for k, e := range t {
			t[k] = reconstruct(e, attachments)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = reconstruct(e, attachments)
		}
		return t
	default:
		return v
	}
}
