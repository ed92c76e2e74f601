package enums

import "fmt"

// ImageStatus describes the transformation lifecycle of a single image.
type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

var validImageStatuses = []ImageStatus{
	ImageStatusPending,
	ImageStatusProcessing,
	ImageStatusCompleted,
	ImageStatusFailed,
}

// String returns the literal string for the status.
func (s ImageStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s ImageStatus) IsValid() bool {
	for _, candidate := range validImageStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the automatic dispatcher treats the state as final.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusCompleted || s == ImageStatusFailed
}

// ParseImageStatus converts raw input into an ImageStatus.
func ParseImageStatus(value string) (ImageStatus, error) {
	for _, candidate := range validImageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid image status %q", value)
}
