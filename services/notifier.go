package services

// Event names pushed to connected clients.
const (
	EventTaskAssigned            = "task_assigned"
	EventTaskUnassigned          = "task_unassigned"
	EventTaskStatusChanged       = "task_status_changed"
	EventServiceRequestCompleted = "service_request_completed"
	EventServiceRequestCancelled = "service_request_cancelled"
)

// Notifier delivers best-effort events to a single user.
type Notifier interface {
	Notify(userID uint, event string, data any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(uint, string, any) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
