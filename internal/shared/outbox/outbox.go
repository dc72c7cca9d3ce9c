package outbox

// Row statuses shared by every outbox table. A relay publishes pending rows
// and marks them published only after the broker accepted them.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
)
