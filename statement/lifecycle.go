package statement

import "github.com/mevdschee/pgshim/model"

// Reset implements spec.md §4.2 "Reset": clear held result and latches,
// and forward to the embedded reset unless this is a redirected-read
// statement (whose shadow statement is a dummy placeholder).
func (e *Engine) Reset(s *model.Statement, embeddedReset func() error) error {
	s.Lock()
	defer s.Unlock()

	s.ResetLocked()
	if s.Role == model.RoleReadRedirected {
		return nil
	}
	return embeddedReset()
}

// Finalize implements spec.md §4.2 "Finalize": drop the statement from
// both registries and release its reference(s), skipping the embedded
// finalize call for redirected-read statements. Statement memory is
// reclaimed by the Go garbage collector once every registry has
// released it — Release's return value tells the caller whether the
// last reference was just dropped.
func (e *Engine) Finalize(handle uintptr, s *model.Statement, embeddedFinalize func() error) error {
	s.Lock()
	tc := e.threads.current()
	role := s.Role
	s.Unlock()

	e.Statements.Remove(handle)
	s.Release()

	if tc.Recent.Invalidate(handle) {
		s.Release()
	}

	if role == model.RoleReadRedirected {
		return nil
	}
	return embeddedFinalize()
}

// ClearBindings resets every bound parameter without touching latches
// or the held result, matching the embedded API's clear_bindings
// contract.
func (e *Engine) ClearBindings(s *model.Statement) {
	s.Lock()
	defer s.Unlock()
	for i := range s.ParamScratch {
		s.ParamScratch[i] = nil
	}
	for i := range s.ParamOverflow {
		s.ParamOverflow[i] = nil
	}
}
