package models

import "time"

// Delivery is a journal row for a record handed to the notifier
type Delivery struct {
	ID          int64     `json:"id"`
	TopicID     string    `json:"topic_id"`
	Title       string    `json:"title"`
	PriceAmount *float64  `json:"price_amount,omitempty"`
	PriceRaw    string    `json:"price_raw,omitempty"`
	ListedAt    time.Time `json:"listed_at"`
	Link        string    `json:"link,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// NewDelivery builds a journal row from a delivered record
func NewDelivery(record ListingRecord, deliveredAt time.Time) Delivery {
	d := Delivery{
		TopicID:     record.TopicID,
		Title:       record.Title,
		PriceAmount: record.PriceAmount,
		PriceRaw:    record.PriceRaw,
		Link:        record.ItemLink(),
		DeliveredAt: deliveredAt,
	}
	if record.ListedAt != nil {
		d.ListedAt = *record.ListedAt
	}
	return d
}
