package models

import (
	"strings"
	"time"
)

// RawSnippet is one listing card's unparsed text and the links found in it
type RawSnippet struct {
	TopicID string   `json:"topic_id"`
	Page    int      `json:"page"`
	Rank    int      `json:"rank"`
	Text    string   `json:"text"`
	Links   []string `json:"links"`
}

// FieldIssue records a line that was classified but carried an invalid value.
// The matching record field stays unset.
type FieldIssue struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// ListingRecord is the typed result of parsing one RawSnippet.
//
// Absent and invalid are distinct: an absent field has no classified line and
// no issue; an invalid field is unset and has a FieldIssue naming it.
type ListingRecord struct {
	Title                 string       `json:"title"`
	Condition             string       `json:"condition,omitempty"`
	SellerType            string       `json:"seller_type,omitempty"`
	PriceAmount           *float64     `json:"price_amount,omitempty"`
	PriceMax              *float64     `json:"price_max,omitempty"`
	PriceRaw              string       `json:"price_raw,omitempty"`
	HasBestOffer          bool         `json:"has_best_offer"`
	ShippingAmount        *float64     `json:"shipping_amount,omitempty"`
	ShippingRaw           string       `json:"shipping_raw,omitempty"`
	Location              string       `json:"location,omitempty"`
	ListedAtRaw           string       `json:"listed_at_raw,omitempty"`
	ListedAt              *time.Time   `json:"listed_at,omitempty"`
	SellerName            string       `json:"seller_name,omitempty"`
	SellerFeedbackCount   *int         `json:"seller_feedback_count,omitempty"`
	SellerFeedbackPercent *float64     `json:"seller_feedback_percent,omitempty"`
	Links                 []string     `json:"links,omitempty"`
	TopicID               string       `json:"topic_id"`
	Page                  int          `json:"page"`
	Rank                  int          `json:"rank"`
	Issues                []FieldIssue `json:"issues,omitempty"`
}

// HasIssue reports whether field was classified but invalid.
func (r *ListingRecord) HasIssue(field string) bool {
	for _, issue := range r.Issues {
		if issue.Field == field {
			return true
		}
	}
	return false
}

// ItemLink returns the first link pointing at an item page, else the first link.
func (r *ListingRecord) ItemLink() string {
	for _, link := range r.Links {
		if strings.Contains(link, "/itm/") {
			return link
		}
	}
	if len(r.Links) > 0 {
		return r.Links[0]
	}
	return ""
}
