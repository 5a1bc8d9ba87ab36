package compat

import (
	"slices"
	"sync"
)

// ServerVersionData is the server's payload as seen by a client, indexed by
// ModID for constant-time presence checks. The index is derived from the
// payload on construction and never mutated on its own.
//
// Reset discards both; afterwards IsValid reports false and lookups return
// zero values. Callers must not compare against a reset instance.
type ServerVersionData struct {
	mu        sync.RWMutex
	data      *VersionData
	moduleIDs map[string]struct{}
}

// NewServerVersionData builds the index over a locally constructed payload.
func NewServerVersionData(game Version, versionString string, networkVersion uint32, modules []Module) (*ServerVersionData, error) {
	vd, err := NewVersionData(game, versionString, networkVersion, modules)
	if err != nil {
		return nil, err
	}
	return WrapVersionData(vd), nil
}

// WrapVersionData builds the index over an existing payload.
func WrapVersionData(vd *VersionData) *ServerVersionData {
	s := &ServerVersionData{}
	s.set(vd)
	return s
}

// DecodeServerVersionData decodes a received payload and indexes it. Like
// DecodeVersionData it always returns a usable value alongside any error.
func DecodeServerVersionData(data []byte, opts ...DecodeOption) (*ServerVersionData, error) {
	vd, err := DecodeVersionData(data, opts...)
	return WrapVersionData(vd), err
}

func (s *ServerVersionData) set(vd *VersionData) {
	ids := make(map[string]struct{}, len(vd.modules))
	for _, m := range vd.modules {
		if id := m.ModID(); id != "" {
			ids[id] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = vd
	s.moduleIDs = ids
}

// IsValid reports whether the instance holds a payload.
func (s *ServerVersionData) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data != nil && s.moduleIDs != nil
}

// Reset discards the payload, e.g. when the connection closes before the
// handshake completes.
func (s *ServerVersionData) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.moduleIDs = nil
}

// VersionData returns the underlying payload, or nil after Reset.
func (s *ServerVersionData) VersionData() *VersionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// HasModuleID reports whether the payload contains the ModID.
func (s *ServerVersionData) HasModuleID(modID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.moduleIDs[modID]
	return ok
}

// FindModule returns the module with the given ModID.
func (s *ServerVersionData) FindModule(modID string) (Module, bool) {
	vd := s.VersionData()
	if vd == nil {
		return Module{}, false
	}
	return vd.FindModule(modID)
}

// HasModule reports whether a module with the given ModID is present.
func (s *ServerVersionData) HasModule(modID string) bool {
	return s.HasModuleID(modID)
}

// ModuleIDs returns the indexed ModIDs in sorted order.
func (s *ServerVersionData) ModuleIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.moduleIDs))
	for id := range s.moduleIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
