package model

// ResponseDelta is a single field-level change within a submission's
// response map: set the field to NewResponse, or clear it when NewResponse
// is nil.
type ResponseDelta struct {
	FieldID     string
	NewResponse Response // nil means "clear this field"
}

// CopyWithDeltas applies an ordered list of deltas on top of the map and
// returns the result. The receiver is never modified.
//
// Semantics:
//   - a delta with a non-nil NewResponse creates or overwrites the field
//   - a delta with a nil NewResponse removes the field
//   - deltas are applied strictly in slice order; the last write for a
//     given field id wins
//   - field ids not defined by the task schema are accepted and stored
//
// The function is pure and deterministic: the same base and deltas always
// produce an equal map. This is what makes replaying still-pending local
// deltas on top of a fresh remote snapshot safe.
func (m ResponseMap) CopyWithDeltas(deltas []ResponseDelta) ResponseMap {
	out := m.Copy()
	for _, d := range deltas {
		if d.FieldID == "" {
			continue
		}
		if d.NewResponse == nil {
			delete(out, d.FieldID)
			continue
		}
		out[d.FieldID] = d.NewResponse
	}
	return out
}
