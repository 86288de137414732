package metrics

// Collector receives the gateway's operational signals
type Collector interface {
	// IncMessages counts a message pulled from the broker
	IncMessages(topic string)
	// IncMessageErrors counts a message that failed at stage (decode or handler)
	IncMessageErrors(topic, stage string)
	// SetConsuming reports whether the consumption loop is alive
	SetConsuming(running bool)
	// IncCredentialRenewal counts a credential refresh/acquire outcome
	IncCredentialRenewal(outcome string)
	// IncSubscriptionRenewal counts a subscription renewal outcome
	IncSubscriptionRenewal(outcome string)
	// IncSinkRecords counts a write to a named sink
	IncSinkRecords(sink, outcome string)
}

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Stage labels for message errors
const (
	StageDecode  = "decode"
	StageHandler = "handler"
)

// Outcome maps a boolean result to its label
func Outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
