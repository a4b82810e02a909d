package core

import "encoding/json"

// deepCopy produces a structural copy of v via a JSON round trip, per
// the source's recommendation that pre-change snapshots need only
// copy the projections actually touched, not the whole projection
// set — and that a generic deep-copy of an `any`-typed projection is
// most simply done through marshal/unmarshal rather than reflection.
func deepCopy(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type snapshotKind int

const (
	snapshotChangeState snapshotKind = iota
	snapshotViewState
)

type snapshotKey struct {
	kind   snapshotKind
	viewID string
}
