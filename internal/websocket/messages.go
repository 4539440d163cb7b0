package websocket

import (
	"time"

	"dcaengine/internal/models"
)

// MessageType identifies a WebSocket event payload.
type MessageType string

const (
	// MessageTypePriceUpdate carries the worker's latest observed price, sent each tick.
	MessageTypePriceUpdate MessageType = "priceUpdate"

	// MessageTypePairUpdate carries a pair's runtime snapshot after a state change.
	MessageTypePairUpdate MessageType = "pairUpdate"

	// MessageTypeNotification carries one entry from the notification log.
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage is embedded by every typed message.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PriceUpdateMessage reports the latest price observed by one pair worker.
type PriceUpdateMessage struct {
	BaseMessage
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// NewPriceUpdateMessage builds a PriceUpdateMessage.
func NewPriceUpdateMessage(symbol string, price float64) *PriceUpdateMessage {
	return &PriceUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypePriceUpdate, Timestamp: time.Now()},
		Symbol:      symbol,
		Price:       price,
	}
}

// PairUpdateMessage carries a pair's current runtime snapshot.
type PairUpdateMessage struct {
	BaseMessage
	Symbol  string             `json:"symbol"`
	Runtime *models.PairRuntime `json:"runtime"`
}

// NewPairUpdateMessage builds a PairUpdateMessage.
func NewPairUpdateMessage(symbol string, runtime *models.PairRuntime) *PairUpdateMessage {
	return &PairUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypePairUpdate, Timestamp: time.Now()},
		Symbol:      symbol,
		Runtime:     runtime,
	}
}

// NotificationMessage carries one notification-log entry.
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// NewNotificationMessage builds a NotificationMessage.
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data:        n,
	}
}
