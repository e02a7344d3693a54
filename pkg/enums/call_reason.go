package enums

// CallReason explains why the resolver enqueued a candidate.
type CallReason string

const (
	CallReasonNotYetCalled CallReason = "not_yet_called"
	CallReasonRetryNeeded  CallReason = "retry_needed"
)
