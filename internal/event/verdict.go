package event

// Verdict is what the producer path decided for one notification.
type Verdict uint8

const (
	// Enqueued: admitted, not debounced, under the burst threshold.
	Enqueued Verdict = iota
	// Rejected by the admission filter (disabled type, empty package, not allowed).
	Rejected
	// Debounced: an equivalent notification was accepted too recently.
	Debounced
	// Bursting: the per-type rate exceeded the burst threshold.
	Bursting
	// Refused: the pipeline is not accepting notifications (not started, error, shut down).
	Refused
)

func (v Verdict) String() string {
	switch v {
	case Enqueued:
		return "admitted"
	case Rejected:
		return "rejected"
	case Debounced:
		return "debounced"
	case Bursting:
		return "burst-suppressed"
	case Refused:
		return "refused"
	default:
		return "unknown"
	}
}

// MarshalText renders the verdict by name in JSON output.
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// MarshalText renders the type by name in JSON output.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts the wire name of a kind.
func (t *Type) UnmarshalText(b []byte) error {
	v, _ := ParseType(string(b))
	*t = v
	return nil
}

// MarshalText renders the set as a comma-separated list.
func (ts Targets) MarshalText() ([]byte, error) { return []byte(ts.String()), nil }
