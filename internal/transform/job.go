package transform

import (
	"github.com/google/uuid"
)

// Message attribute keys carried alongside every job payload.
const (
	attrOrderID = "order_id"
	attrImageID = "image_id"
	attrTrigger = "trigger"
)

// Dispatch triggers, recorded in metrics and message attributes.
const (
	TriggerUpload      = "upload"
	TriggerRetransform = "retransform"
)

// Job identifies one image to transform. Jobs are deliberately thin: the
// handler reloads authoritative state from the database, so a stale or
// duplicated message never does more than waste a claim attempt.
type Job struct {
	OrderID uuid.UUID `json:"order_id"`
	ImageID uuid.UUID `json:"image_id"`
}
