package models

import "time"

// NotificationLog is an append-only record of one outbound
// notification, standing in for an actual webhook/email dispatch.
type NotificationLog struct {
	PaymentID string
	Channel   string
	Message   string
	CreatedAt time.Time
}
