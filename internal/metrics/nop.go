package metrics

// NopMetrics discards everything. Used in tests and when metrics are disabled.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a no-op collector
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) IncMessages(string) {}
func (n *NopMetrics) IncMessageErrors(string, string) {}
func (n *NopMetrics) SetConsuming(bool) {}
func (n *NopMetrics) IncCredentialRenewal(string) {}
func (n *NopMetrics) IncSubscriptionRenewal(string) {}
func (n *NopMetrics) IncSinkRecords(string, string) {}
