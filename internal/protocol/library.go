package protocol

import (
	"fmt"
	"sync"
)

// DefaultProtocolID is the ID of the built-in fallback protocol.
const DefaultProtocolID = "defaultProtocol"

// Library is the ordered registry of protocols known to the engine.
// Registration order matters: the selector breaks score ties in favor of
// the first registered protocol.
type Library struct {
	mu        sync.RWMutex
	protocols []*Protocol
	byID      map[string]*Protocol
	defaultID string
}

// NewLibrary returns a library seeded with the locked default protocol so
// the selector always has a fallback.
func NewLibrary() *Library {
	l := &Library{byID: make(map[string]*Protocol)}
	def := DefaultProtocol()
	l.protocols = append(l.protocols, def)
	l.byID[def.ID] = def
	l.defaultID = def.ID
	return l
}

// Register adds a protocol to the library. Protocols are read-only once
// registered; a duplicate ID is an error.
func (l *Library) Register(p *Protocol) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdateNumberOfPriorsReferenced()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[p.ID]; exists {
		return fmt.Errorf("protocol %q already registered", p.ID)
	}
	l.protocols = append(l.protocols, p)
	l.byID[p.ID] = p
	return nil
}

// Get returns the protocol with the given ID.
func (l *Library) Get(id string) (*Protocol, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byID[id]
	return p, ok
}

// All returns the protocols in registration order.
func (l *Library) All() []*Protocol {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Protocol, len(l.protocols))
	copy(out, l.protocols)
	return out
}

// Default returns the fallback protocol. It always exists.
func (l *Library) Default() *Protocol {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[l.defaultID]
}

// SetDefault changes which registered protocol is the fallback.
func (l *Library) SetDefault(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return fmt.Errorf("protocol %q not registered", id)
	}
	l.defaultID = id
	return nil
}

// DefaultProtocol builds the locked single-viewport fallback used when no
// registered protocol matches a study.
func DefaultProtocol() *Protocol {
	p := &Protocol{
		ID:     DefaultProtocolID,
		Name:   "Default",
		Locked: true,
	}
	stage := NewStage("oneByOne", ViewportStructure{
		LayoutTemplateName: "gridLayout",
		Rows:               1,
		Columns:            1,
	})
	stage.Viewports = []Viewport{{}}
	p.Stages = []*Stage{stage}
	return p
}
