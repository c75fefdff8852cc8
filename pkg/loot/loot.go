// Package loot contains the domain model for in-game drop events and the
// delivery reports produced when they are fanned out to devices.
package loot

import (
	"fmt"
	"strconv"
	"time"
)

// Item is a single dropped item within an event.
type Item struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	PriceEach int64  `json:"priceEach"`
}

// TotalValue is the stack value of the item.
func (i Item) TotalValue() int64 {
	return i.Quantity * i.PriceEach
}

// Event is a normalized drop event as delivered by the game client webhook.
type Event struct {
	Items  []Item `json:"items"`
	Source string `json:"source,omitempty"`
}

// TopItem returns the item with the highest stack value, or nil when the
// slice is empty. Ties go to the first occurrence so that the selection is
// stable across identical payloads.
func TopItem(items []Item) *Item {
	var top *Item
	for _, raw := range items {
		item := normalize(raw)
		if top == nil || item.TotalValue() > top.TotalValue() {
			picked := item
			top = &picked
		}
	}
	return top
}

// normalize fills the defaults the game client omits: a missing quantity
// means a single item, a missing price means zero value.
func normalize(item Item) Item {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	if item.PriceEach < 0 {
		item.PriceEach = 0
	}
	if item.Name == "" {
		item.Name = "Unknown"
	}
	return item
}

// Message is the notification content sent identically to every device.
type Message struct {
	Title     string
	Body      string
	ChannelID string
}

// NewDropMessage builds the notification for the top item of an event.
func NewDropMessage(item Item, source string, at time.Time, channelID string) Message {
	body := fmt.Sprintf("%dx %s (%s gp)", item.Quantity, item.Name, groupDigits(item.TotalValue()))
	if source != "" {
		body += " from " + source
	}
	body += " at " + at.Format("15:04:05")

	return Message{
		Title:     "OSRS Drop!",
		Body:      body,
		ChannelID: channelID,
	}
}

// groupDigits renders n with comma thousands separators, matching the
// formatting players see in-game.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Delivery outcome for a single device.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// DeliveryResult records the outcome for one device token. Token is always
// the redacted form; raw tokens never appear in reports or logs.
type DeliveryResult struct {
	Token    string `json:"token"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// DeliveryReport aggregates the fan-out of a single event. Notifications
// has exactly one entry per token in the snapshot taken at broadcast start.
type DeliveryReport struct {
	BroadcastID   string           `json:"broadcast_id"`
	Item          string           `json:"item"`
	Quantity      int64            `json:"quantity"`
	Value         int64            `json:"value"`
	Time          string           `json:"time"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Notifications []DeliveryResult `json:"notifications"`
}
