package interfaces

import "context"

// Notifier is a fire-and-forget message sink. Implementations must never
// block an execution cycle; delivery failures are logged and swallowed.
type Notifier interface {
	Notify(ctx context.Context, message string)
}
