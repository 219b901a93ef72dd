package engine

// Script holds the deferred-action buffers and the recording state machine:
//
//	Idle --StartRecording--> Recording --StopRecording--> Flushing
//
// Buffers preserve append order and are cleared by every flush.
type Script struct {
	state   ScriptState
	buffers map[ScriptKind][]string
}

// NewScript creates an idle script with empty buffers.
func NewScript() *Script {
	return &Script{
		state:   ScriptIdle,
		buffers: make(map[ScriptKind][]string, 3),
	}
}

// State returns the current recording state.
func (s *Script) State() ScriptState {
	return s.state
}

// Recording reports whether eligible actions are being deferred.
func (s *Script) Recording() bool {
	return s.state == ScriptRecording
}

// StartRecording begins deferring eligible actions.
func (s *Script) StartRecording() {
	s.state = ScriptRecording
}

// StopRecording ends deferral. Subsequent dispatches run immediately.
func (s *Script) StopRecording() {
	s.state = ScriptFlushing
}

// Record appends action to the buffer of kind.
func (s *Script) Record(kind ScriptKind, action string) {
	s.buffers[kind] = append(s.buffers[kind], action)
}

// Pending returns a copy of the actions waiting in the buffer of kind.
func (s *Script) Pending(kind ScriptKind) []string {
	return append([]string(nil), s.buffers[kind]...)
}

// Len returns the number of actions waiting in the buffer of kind.
func (s *Script) Len(kind ScriptKind) int {
	return len(s.buffers[kind])
}

// take empties the buffer of kind and returns its former contents.
func (s *Script) take(kind ScriptKind) []string {
	actions := s.buffers[kind]
	delete(s.buffers, kind)
	return actions
}
