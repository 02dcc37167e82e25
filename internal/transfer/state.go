package transfer

// RunState is the phase of a transfer run.
type RunState int32

const (
	Idle RunState = iota
	SourceConnecting
	SourceReady
	TargetConnecting
	TargetReady
	Transferring
	Purging
	Aborting
	Done
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case SourceConnecting:
		return "source-connecting"
	case SourceReady:
		return "source-ready"
	case TargetConnecting:
		return "target-connecting"
	case TargetReady:
		return "target-ready"
	case Transferring:
		return "transferring"
	case Purging:
		return "purging"
	case Aborting:
		return "aborting"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
