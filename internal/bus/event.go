package bus

import "time"

// Event is one bridge occurrence published on the bus. Kind is a dotted
// name spaced by source: ingest.message and ingest.forwarded from the
// webhook path, reply.sent and reply.send_failed from the reconciliation
// loop, bridge.status_changed from the status machine.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
