// Package tracking turns an order status into the progress shown on the
// customer tracking page.
package tracking

import "github.com/jogardn/fromentine-orders/pkg/models"

// HaltStep is the step index of a cancelled order: no progress is drawn.
const HaltStep = -1

var steps = map[models.Status]int{
	models.StatusReceived:       0,
	models.StatusPreparing:      1,
	models.StatusReady:          2,
	models.StatusOutForDelivery: 3,
	models.StatusCompleted:      4,
}

// StepCount is the number of steps in the forward sequence.
const StepCount = 5

type Projection struct {
	Status    models.Status `json:"status"`
	Step      int           `json:"step"`
	Cancelled bool          `json:"cancelled"`
}

// Project maps status to its place in the forward sequence. Statuses outside
// the sequence other than CANCELLED, such as PENDING_PAYMENT, show as step 0.
func Project(status models.Status) Projection {
	if status == models.StatusCancelled {
		return Projection{Status: status, Step: HaltStep, Cancelled: true}
	}
	return Projection{Status: status, Step: steps[status]}
}
