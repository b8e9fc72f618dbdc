package apify

import (
	"strings"

	"socialdash/pkg/models"
)

// NormalizeStatus maps a raw runner status onto the tracker's four states.
// Anything unrecognised counts as still running.
func NormalizeStatus(raw string) models.JobStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCEEDED":
		return models.StatusSucceeded
	case "FAILED":
		return models.StatusFailed
	case "TIMED-OUT", "TIMED_OUT", "TIMEOUT", "ABORTED":
		return models.StatusTimeout
	default:
		return models.StatusRunning
	}
}
