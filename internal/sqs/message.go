package sqs

import (
	"encoding/json"
	"fmt"
)

// Task names carried on the delivery queue.
const (
	TaskDeliverSMS     = "deliver_sms"
	TaskDeliverEmail   = "deliver_email"
	TaskProcessReceipt = "process_receipt"
)

// Message is the payload sent to SQS.
type Message struct {
	Task           string `json:"task"`
	NotificationID string `json:"notification_id,omitempty"`

	// Receipt fields, set for TaskProcessReceipt only.
	Provider  string `json:"provider,omitempty"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status,omitempty"`

	EnqueuedAt int64 `json:"enqueued_at"`
}

// DeliverTask maps a notification type to the task that sends it.
func DeliverTask(notificationType string) (string, error) {
	switch notificationType {
	case "sms":
		return TaskDeliverSMS, nil
	case "email":
		return TaskDeliverEmail, nil
	default:
		return "", fmt.Errorf("no delivery task for notification type %q", notificationType)
	}
}

func decode(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("invalid message format: %w", err)
	}
	if msg.Task == "" {
		return Message{}, fmt.Errorf("invalid message format: missing task")
	}
	return msg, nil
}
