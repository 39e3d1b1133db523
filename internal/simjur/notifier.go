package simjur

import "simjur/internal/model"

// Notifier receives the notifications raised by workflow events.
type Notifier interface {
	Publish(n model.Notification) model.Notification
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Publish(n model.Notification) model.Notification { return n }
