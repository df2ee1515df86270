package auxtask

// Domain is the execution domain a task currently runs in
type Domain int32

const (
	// Expedited tasks hold the cooperative CPU and run with deterministic latency
	Expedited Domain = iota
	// Degraded tasks have left the deterministic path after a blocking call and
	// run under ordinary OS scheduling until the invocation ends
	Degraded
)

// String implements fmt.Stringer
func (d Domain) String() string {
	switch d {
	case Expedited:
		return "expedited"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}
