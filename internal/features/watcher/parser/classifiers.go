package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"market-watch/internal/features/watcher/models"
)

const currencyMarker = "EUR"

var (
	conditionRe = regexp.MustCompile(`\b(Nur Ersatzteile|Brandneu|Gebraucht|Defekt|Neu)\b`)
	amountRe    = regexp.MustCompile(`EUR\s*([\d.,]+)`)
	dateRe      = regexp.MustCompile(`(\d{1,2})\.\s*(Jan|Feb|Mär|Mar|Apr|Mai|Jun|Jul|Aug|Sep|Okt|Nov|Dez)\.?(?:\s*(\d{4}))?\s*(\d{2}):(\d{2})`)
	sellerRe    = regexp.MustCompile(`^(.+?)\s*\(([\d.,]+)\)\s*([\d.,]+)%`)

	shippingTokens = []string{"Versand", "Lieferung", "+EUR", "Kostenlos"}

	months = map[string]time.Month{
		"Jan": time.January, "Feb": time.February, "Mär": time.March, "Mar": time.March,
		"Apr": time.April, "Mai": time.May, "Jun": time.June, "Jul": time.July,
		"Aug": time.August, "Sep": time.September, "Okt": time.October,
		"Nov": time.November, "Dez": time.December,
	}
)

// classifier reports whether it claimed the line.
type classifier func(line string, record *models.ListingRecord, loc *time.Location, year int) bool

// classifiers run in order; the first match wins.
var classifiers = []classifier{
	classifyCondition,
	classifyPrice,
	classifyBestOffer,
	classifyShipping,
	classifyLocation,
	classifyTimestamp,
	classifySeller,
}

func classifyCondition(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	if !conditionRe.MatchString(line) {
		return false
	}
	if before, after, found := strings.Cut(line, "|"); found {
		record.Condition = strings.TrimSpace(before)
		record.SellerType = strings.TrimSpace(after)
	} else {
		record.Condition = line
	}
	return true
}

func classifyPrice(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	if !strings.HasPrefix(line, currencyMarker) {
		return false
	}
	record.PriceRaw = line

	matches := amountRe.FindAllStringSubmatch(line, 2)
	if len(matches) == 0 {
		addIssue(record, "price_amount", line, "no amount after currency marker")
		return true
	}
	if amount, ok := ParseDecimal(matches[0][1]); ok {
		record.PriceAmount = &amount
	} else {
		addIssue(record, "price_amount", matches[0][1], "not a decimal")
	}
	if len(matches) > 1 {
		if upper, ok := ParseDecimal(matches[1][1]); ok {
			record.PriceMax = &upper
		} else {
			addIssue(record, "price_max", matches[1][1], "not a decimal")
		}
	}
	return true
}

func classifyBestOffer(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	if !strings.Contains(line, "Preisvorschlag") {
		return false
	}
	record.HasBestOffer = true
	return true
}

func classifyShipping(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	matched := false
	for _, token := range shippingTokens {
		if strings.Contains(line, token) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	record.ShippingRaw = line

	m := amountRe.FindStringSubmatch(line)
	if m == nil {
		free := 0.0
		record.ShippingAmount = &free
		return true
	}
	if amount, ok := ParseDecimal(m[1]); ok {
		record.ShippingAmount = &amount
	} else {
		addIssue(record, "shipping_amount", m[1], "not a decimal")
	}
	return true
}

func classifyLocation(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	if len(line) < 4 || !strings.EqualFold(line[:4], "aus ") {
		return false
	}
	record.Location = strings.TrimSpace(line[4:])
	return true
}

func classifyTimestamp(line string, record *models.ListingRecord, loc *time.Location, year int) bool {
	m := dateRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	record.ListedAtRaw = line

	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}
	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])

	at, ok := validDate(year, months[m[2]], day, hour, minute, loc)
	if !ok {
		addIssue(record, "listed_at", line, "invalid calendar date")
		return true
	}
	record.ListedAt = &at
	return true
}

func classifySeller(line string, record *models.ListingRecord, _ *time.Location, _ int) bool {
	m := sellerRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	record.SellerName = strings.TrimSpace(m[1])

	digits := strings.NewReplacer(".", "", ",", "").Replace(m[2])
	if count, err := strconv.Atoi(digits); err == nil {
		record.SellerFeedbackCount = &count
	} else {
		addIssue(record, "seller_feedback_count", m[2], "not an integer")
	}

	if percent, err := strconv.ParseFloat(strings.ReplaceAll(m[3], ",", "."), 64); err == nil && percent <= 100 {
		record.SellerFeedbackPercent = &percent
	} else {
		addIssue(record, "seller_feedback_percent", m[3], "not a percentage")
	}
	return true
}

// validDate rejects combinations time.Date would normalise, such as 31 June.
func validDate(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	if hour > 23 || minute > 59 || day < 1 {
		return time.Time{}, false
	}
	at := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if at.Year() != year || at.Month() != month || at.Day() != day {
		return time.Time{}, false
	}
	return at, true
}

// ParseDecimal parses German-grouped numbers: "1.234,56" is 1234.56.
func ParseDecimal(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" || s == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func addIssue(record *models.ListingRecord, field, raw, reason string) {
	record.Issues = append(record.Issues, models.FieldIssue{Field: field, Raw: raw, Reason: reason})
}
