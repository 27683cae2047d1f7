package chain

import "fmt"

// SafetyError is the one fatal error kind in the whole system: two
// distinct hashes were about to be finalized at the same height on
// this node. The store emits a safety_violation event (logged at
// ERROR) and returns it; the scheduler ends the run with it, and the
// node command flushes logs and exits non-zero — this type is never
// handled and retried.
type SafetyError struct {
	Height   int64
	Existing string
	New      string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("chain: safety violation at height %d: already finalized %s, tried to finalize %s",
		e.Height, e.Existing, e.New)
}
