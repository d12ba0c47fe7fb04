// Package notifier hands fresh listings to people: a Telegram chat, an
// e-mail inbox, or both.
package notifier

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"

	"market-watch/internal/features/watcher/models"
)

const placeholder = "-"

// Message is the rendering-ready view of a listing shared by every channel.
type Message struct {
	Topic     string
	Title     string
	Price     string
	BestOffer bool
	Condition string
	Feedback  string
	ListedAt  string
	Link      string
}

// NewMessage builds a message from a record. Missing fields render as "-".
func NewMessage(record models.ListingRecord) Message {
	msg := Message{
		Topic:     record.TopicID,
		Title:     record.Title,
		Price:     placeholder,
		BestOffer: record.HasBestOffer,
		Condition: placeholder,
		Feedback:  "0",
		ListedAt:  "?",
		Link:      record.ItemLink(),
	}

	switch {
	case record.PriceAmount != nil:
		msg.Price = formatEuro(*record.PriceAmount)
	case record.PriceRaw != "":
		msg.Price = record.PriceRaw
	}
	if record.Condition != "" {
		msg.Condition = record.Condition
	}
	if record.SellerFeedbackCount != nil {
		msg.Feedback = strconv.Itoa(*record.SellerFeedbackCount)
	}
	if record.ListedAtRaw != "" {
		msg.ListedAt = record.ListedAtRaw
	}
	if msg.Title == "" {
		msg.Title = "(kein Titel)"
	}
	return msg
}

// formatEuro renders 1234.5 as "1.234,50 €".
func formatEuro(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")

	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := b.String() + "," + frac + " €"
	if negative {
		out = "-" + out
	}
	return out
}

var telegramTemplate = template.Must(template.New("telegram").Parse(
	`<b>Name:</b> {{.Title}}

<b>Preis:</b> {{.Price}}
<b>Preisvorschlag:</b> {{if .BestOffer}}🟢{{else}}🔴{{end}}
<b>Artikelzustand:</b> {{.Condition}}
<b>Bewertungen:</b> {{.Feedback}}
<b>Veröffentlicht:</b> {{.ListedAt}}{{if .Link}}

<a href="{{.Link}}">Öffne Link</a>{{end}}`))

// TelegramHTML renders the message for Telegram's HTML parse mode.
func (m Message) TelegramHTML() (string, error) {
	var buf bytes.Buffer
	if err := telegramTemplate.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}
