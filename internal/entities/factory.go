package entities

import "sync"

// Creator builds an entity for a definition. Registered creators let
// callers attach typed behavior per obj_type; unregistered types get a
// plain Entity.
type Creator func(def *Definition) *Entity

// Factory instantiates entities keyed on obj_type
type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{creators: make(map[string]Creator)}
}

// Register installs a creator for an obj_type, replacing any previous one
func (f *Factory) Register(objType string, c Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[objType] = c
}

// Create instantiates an entity for the definition's obj_type
func (f *Factory) Create(def *Definition) *Entity {
	f.mu.RLock()
	c, ok := f.creators[def.ObjType]
	f.mu.RUnlock()
	if ok {
		return c(def)
	}
	return NewEntity(def)
}
