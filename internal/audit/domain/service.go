package domain

import "context"

// Service writes audit records. Callers pass snake_case actions such as
// payment_policy.updated or order.cancelled.
type Service interface {
	AuditLog(
		ctx context.Context,
		actorType ActorType,
		actorID string,
		action string,
		targetType string,
		targetID string,
		metadata map[string]any,
	) error
}
