package sandbox

// FailureKind classifies execution failures so an outer layer can tell a
// configuration problem the user must fix from a transient remote issue.
type FailureKind string

const (
	FailureConfiguration FailureKind = "configuration"
	FailureNotFound      FailureKind = "not_found"
	FailureRemote        FailureKind = "remote"
	FailureScript        FailureKind = "script"
	FailureTimeout       FailureKind = "timeout"
)

// Failure is the failure branch of an Outcome.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Outcome is the result of one script execution: either a value or a
// classified failure, never both and never partially filled. Undefined
// distinguishes "the script returned nothing" from an explicit null or
// empty return.
type Outcome struct {
	Value     any      `json:"value,omitempty"`
	Undefined bool     `json:"undefined,omitempty"`
	Failure   *Failure `json:"failure,omitempty"`
}

// OK reports whether the execution produced a value.
func (o Outcome) OK() bool { return o.Failure == nil }

func valueOutcome(v any, undefined bool) Outcome {
	if undefined {
		return Outcome{Undefined: true}
	}
	return Outcome{Value: v}
}

func failureOutcome(kind FailureKind, message string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message}}
}
