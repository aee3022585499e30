package tracking

import (
	"fmt"

	appErrors "delivery-tracker/pkg/errors"
)

// State machine for delivery status transitions
var validTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusPending: {
		StatusAssigned,
		StatusProblem,
		StatusCancelled,
	},
	StatusAssigned: {
		StatusEnRouteToPickup,
		StatusProblem,
		StatusCancelled,
	},
	StatusEnRouteToPickup: {
		StatusAtPickup,
		StatusProblem,
		StatusCancelled,
	},
	StatusAtPickup: {
		StatusPickedUp,
		StatusProblem,
		StatusCancelled,
	},
	StatusPickedUp: {
		StatusEnRouteToDropoff,
		StatusProblem,
		StatusCancelled,
	},
	StatusEnRouteToDropoff: {
		StatusAtDropoff,
		StatusDelivered,
		StatusProblem,
		StatusCancelled,
	},
	StatusAtDropoff: {
		StatusDelivered,
		StatusProblem,
		StatusCancelled,
	},
	StatusProblem: {
		StatusEnRouteToPickup,  // Resume after resolving issue
		StatusEnRouteToDropoff, // Resume after resolving issue
		StatusDelivered,
		StatusCancelled,
	},
	StatusDelivered: {
		// Terminal state - no transitions
	},
	StatusCancelled: {
		// Terminal state - no transitions
	},
}

// ValidateStatusTransition checks if status transition is allowed
func ValidateStatusTransition(currentStatus, newStatus DeliveryStatus) error {
	allowedStatuses, exists := validTransitions[currentStatus]
	if !exists {
		return appErrors.NewAppError(
			"INVALID_STATUS",
			fmt.Sprintf("Unknown current status: %s", currentStatus),
			nil,
		)
	}

	for _, allowed := range allowedStatuses {
		if newStatus == allowed {
			return nil
		}
	}

	return appErrors.NewAppError(
		"INVALID_TRANSITION",
		fmt.Sprintf("Cannot transition from %s to %s", currentStatus, newStatus),
		nil,
	)
}

// GetAllowedTransitions returns allowed next statuses
func GetAllowedTransitions(currentStatus DeliveryStatus) []DeliveryStatus {
	return validTransitions[currentStatus]
}

// IsTerminal reports whether no further transition is possible from status.
func IsTerminal(status DeliveryStatus) bool {
	next, ok := validTransitions[status]
	return ok && len(next) == 0
}
