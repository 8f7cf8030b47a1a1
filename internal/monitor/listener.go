package monitor

// Listener receives each ResourceDnsResult a ResourceMonitor publishes,
// paired with the result it replaces (nil on the first tick). A
// Listener must not block and must not panic; a panicking Listener is
// recovered and logged but must not prevent delivery to the remaining
// listeners.
type Listener func(old, new *ResourceDnsResult)

// ListenerHandle is the token AddListener returns and RemoveListener
// consumes. Listener-registry membership is a reference (identity)
// contract, and Go function values are not comparable, so a handle
// stands in for "the same listener" across Add/Remove.
type ListenerHandle struct {
	fn Listener
}
