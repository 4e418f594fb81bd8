package storage

import "github.com/rcrowley/go-metrics"

// Metrics holds counters shared by the store implementations.
type Metrics struct {
	ClaimsCreated   metrics.Counter
	ClaimsRenewed   metrics.Counter
	ClaimsReleased  metrics.Counter
	MessagesClaimed metrics.Counter
	MessagesPosted  metrics.Counter
	MessagesDeleted metrics.Counter
	GCClaimsRemoved metrics.Counter
}

// NewMetrics registers the store counters under the given registry.
// A nil registry uses metrics.DefaultRegistry.
func NewMetrics(r metrics.Registry) *Metrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &Metrics{
		ClaimsCreated:   metrics.GetOrRegisterCounter("storage_claims_created", r),
		ClaimsRenewed:   metrics.GetOrRegisterCounter("storage_claims_renewed", r),
		ClaimsReleased:  metrics.GetOrRegisterCounter("storage_claims_released", r),
		MessagesClaimed: metrics.GetOrRegisterCounter("storage_messages_claimed", r),
		MessagesPosted:  metrics.GetOrRegisterCounter("storage_messages_posted", r),
		MessagesDeleted: metrics.GetOrRegisterCounter("storage_messages_deleted", r),
		GCClaimsRemoved: metrics.GetOrRegisterCounter("storage_gc_claims_removed", r),
	}
}
