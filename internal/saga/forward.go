package saga

// Forward carries data published by completed steps to steps that run after
// them. It is keyed by StepID and append-only for the duration of one run.
//
// The executor does not enforce that a consumer runs after its producer —
// that ordering is the caller's responsibility via enqueue order.
type Forward struct {
	payloads map[StepID]any
}

func NewForward() *Forward {
	return &Forward{payloads: make(map[StepID]any)}
}

// Put records the payload a step returned from Perform under its ID.
// Later Puts for the same ID overwrite; in practice each step runs once.
func (f *Forward) Put(id StepID, payload any) {
	f.payloads[id] = payload
}

// Lookup returns the payload published under id, if any.
func (f *Forward) Lookup(id StepID) (any, bool) {
	p, ok := f.payloads[id]
	return p, ok
}
