package events

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Auth event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// WriteAuthEvent records a single authentication event.
//
// This is the primary method for recording sign-in/sign-up/sign-out
// telemetry. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - event: Event name (e.g. "sign_in", "sign_up", "token_refresh")
//   - outcome: OutcomeSuccess, OutcomeFailure, or OutcomeDenied
//   - role: Role of the subject, empty if unauthenticated
//   - userID: Subject user ID, empty if unknown (e.g. bad email)
//
// Example:
//
//	client.WriteAuthEvent("sign_in", events.OutcomeFailure, "", "")
func (c *Client) WriteAuthEvent(event, outcome, role, userID string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"auth_events",
		map[string]string{
			"event":   event,
			"outcome": outcome,
			"role":    role,
		},
		map[string]interface{}{
			"user_id": userID,
			"count":   1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRoleChange records a role promotion or demotion.
//
// Parameters:
//   - userID: The account whose role changed
//   - fromRole, toRole: Previous and new role values
//   - changedBy: ID of the admin who performed the change
func (c *Client) WriteRoleChange(userID, fromRole, toRole, changedBy string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"role_changes",
		map[string]string{
			"from_role": fromRole,
			"to_role":   toRole,
		},
		map[string]interface{}{
			"user_id":    userID,
			"changed_by": changedBy,
			"count":      1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionGauge records the number of active sessions for capacity
// and anomaly monitoring.
func (c *Client) WriteSessionGauge(activeSessions int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sessions",
		nil,
		map[string]interface{}{
			"active": activeSessions,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
