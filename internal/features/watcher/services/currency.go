package services

import (
	"fmt"
	"regexp"
	"strings"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
)

// priceLineRe matches a line that starts with a currency marker and an amount.
var priceLineRe = regexp.MustCompile(`^(EUR|USD|US \$|GBP|£|CHF|AU \$|C \$|PLN|SEK|DKK|NOK|CZK|HUF|\$|€)\s*\d`)

var markerAliases = map[string]string{
	"€":    "EUR",
	"US $": "USD",
	"$":    "USD",
	"£":    "GBP",
}

// CheckCurrency verifies that the first price line among the snippets is
// quoted in expected. Some exits inside an allowed region still get a
// foreign storefront; a mismatch returns a geo mismatch error so the caller
// discards the session. Snippets without any price line pass.
func CheckCurrency(snippets []models.RawSnippet, expected string) error {
	if expected == "" {
		return nil
	}
	for _, snippet := range snippets {
		lines := strings.Split(snippet.Text, "\n")
		// The title line is skipped; model names like "RTX 3080" look like prices.
		for _, line := range lines[1:] {
			m := priceLineRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			marker := m[1]
			if alias, ok := markerAliases[marker]; ok {
				marker = alias
			}
			if marker != expected {
				return core.NewGeoMismatchError(fmt.Sprintf("storefront quotes %s, expected %s", marker, expected), nil)
			}
			return nil
		}
	}
	return nil
}
