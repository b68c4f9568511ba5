package voice

import (
	"fmt"
	"log/slog"
	"reflect"
)

// reservedEvents are inbound event names handled by the transport itself.
var reservedEvents = map[string]struct{}{
	"connect":         {},
	"connect_error":   {},
	"connected":       {},
	"disconnect":      {},
	"disconnecting":   {},
	"error":           {},
	"session.started": {},
	"session.stopped": {},
	"speaker":         {},
	"speaker.end":     {},
	"writing":         {},
}

// IsReservedEvent reports whether name is handled by the transport and
// cannot be registered as a tool.
func IsReservedEvent(name string) bool {
	_, ok := reservedEvents[name]
	return ok
}

// ToolRouter maps tool event names to registrations. It is built once per
// configuration and is read-only afterwards.
type ToolRouter struct {
	tools  map[string]ToolRegistration
	order  []string
	logger *slog.Logger
}

// NewToolRouter builds a router, rejecting duplicate, reserved, unnamed
// and handler-less registrations.
func NewToolRouter(regs []ToolRegistration, logger *slog.Logger) (*ToolRouter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ToolRouter{
		tools:  make(map[string]ToolRegistration, len(regs)),
		logger: logger,
	}
	for _, reg := range regs {
		if err := r.register(reg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *ToolRouter) register(reg ToolRegistration) error {
	switch {
	case reg.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	case reg.Handler == nil:
		return fmt.Errorf("%w: %q has no handler", ErrInvalidTool, reg.Name)
	case IsReservedEvent(reg.Name):
		return fmt.Errorf("%w: %q", ErrReservedEvent, reg.Name)
	}
	if _, dup := r.tools[reg.Name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, reg.Name)
	}
	r.tools[reg.Name] = reg
	r.order = append(r.order, reg.Name)
	return nil
}

// Names returns the registered event names in registration order.
func (r *ToolRouter) Names() []string {
	return append([]string(nil), r.order...)
}

// Has reports whether name is registered.
func (r *ToolRouter) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Declarations returns the start-message form of every registration.
func (r *ToolRouter) Declarations() map[string]ToolDeclaration {
	out := make(map[string]ToolDeclaration, len(r.tools))
	for name, reg := range r.tools {
		out[name] = ToolDeclaration{Schema: reg.Schema, ToolDescription: reg.Description}
	}
	return out
}

// Dispatch invokes the handler registered for name. It reports whether a
// handler existed; a panicking handler is recovered and returned as err.
func (r *ToolRouter) Dispatch(name string, payload map[string]any) (handled bool, err error) {
	reg, ok := r.tools[name]
	if !ok {
		return false, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("voice: tool %q handler panicked: %v", name, p)
		}
	}()
	reg.Handler(payload)
	return true, nil
}

// sameTools reports whether two routers declare the same tools with the
// same descriptions and schemas.
func sameTools(a, b *ToolRouter) bool {
	return reflect.DeepEqual(a.Declarations(), b.Declarations())
}
