package utils

import (
	"fmt"
	"lifeline/models"
)

// BuildEmergencyMessage renders the notification payload for a lifecycle
// event. The same rendered message is carried by every job in the batch;
// channel providers adapt it to their transport.
func BuildEmergencyMessage(event *models.LifecycleEvent, kind models.BatchKind) models.RenderedMessage {
	var title, body string

	switch event.Type {
	case models.EmergencyTypeSOS:
		title = "EMERGENCY ALERT"
		body = "An SOS alert has been triggered. Please respond immediately."
	case models.EmergencyTypeMedical:
		title = "MEDICAL EMERGENCY"
		body = "A medical emergency has been reported. Please respond immediately."
	case models.EmergencyTypeFire:
		title = "FIRE EMERGENCY"
		body = "A fire emergency has been reported. Please respond immediately."
	case models.EmergencyTypePolice:
		title = "POLICE EMERGENCY"
		body = "A police emergency has been reported. Please respond immediately."
	case models.EmergencyTypeFall:
		title = "FALL DETECTED"
		body = "A fall has been detected. Please check in immediately."
	default:
		title = "EMERGENCY ALERT"
		body = "An emergency has been reported. Please respond immediately."
	}

	switch kind {
	case models.BatchKindEscalation:
		title = "ESCALATION: " + title
		body = "No one has responded yet. " + body
	case models.BatchKindFollowUp:
		title = "REMINDER: " + title
		body = "This emergency is still unacknowledged. " + body
	}

	if event.Message != "" {
		body = fmt.Sprintf("%s Message: %s", body, event.Message)
	}

	return models.RenderedMessage{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"emergencyId": event.EmergencyID,
			"type":        string(event.Type),
			"kind":        string(kind),
			"latitude":    fmt.Sprintf("%.6f", event.Location.Latitude),
			"longitude":   fmt.Sprintf("%.6f", event.Location.Longitude),
		},
	}
}
