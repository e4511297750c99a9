package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(protocol string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(protocol string) {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(protocol, verb string) {}

// LineOverflow is a no-op.
func (n *NoopCollector) LineOverflow(protocol string) {}

// MessageDelivered is a no-op.
func (n *NoopCollector) MessageDelivered(recipients int, sizeBytes int64) {}

// DeliveryFailed is a no-op.
func (n *NoopCollector) DeliveryFailed(reason string) {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(success bool) {}

// MessageRetrieved is a no-op.
func (n *NoopCollector) MessageRetrieved(sizeBytes int64) {}

// MessagesDeleted is a no-op.
func (n *NoopCollector) MessagesDeleted(count int) {}
