package deployment

import "fmt"

// StaleDeploymentError is returned when a Document's timestamp does not
// exceed the group's last-accepted timestamp (spec.md §4.5's staleness
// rule); local deployments are never stale and never produce this
// error.
type StaleDeploymentError struct {
	GroupID           string
	Timestamp         int64
	LastAcceptedAt    int64
}

func (e *StaleDeploymentError) Error() string {
	return fmt.Sprintf("deployment: stale document for group %s (timestamp %d <= last accepted %d)",
		e.GroupID, e.Timestamp, e.LastAcceptedAt)
}
