package services

import (
	"testing"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
)

func TestCheckCurrency(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		mismatch bool
	}{
		{"euro storefront", []string{"GPU\nEUR 500,00"}, false},
		{"dollar storefront", []string{"GPU\nUS $550.00"}, true},
		{"pound storefront", []string{"GPU\n£430.00"}, true},
		{"euro sign alias", []string{"GPU\n€ 12,00"}, false},
		{"no price lines", []string{"GPU\nGebraucht", "Other\naus Berlin"}, false},
		{"first price line decides", []string{"GPU\nGebraucht", "Other\nEUR 10,00", "Third\nUSD 12.00"}, false},
		{"title that looks like a price", []string{"$5 gift card\nEUR 4,50"}, false},
		{"no snippets", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snippets []models.RawSnippet
			for _, text := range tt.texts {
				snippets = append(snippets, models.RawSnippet{Text: text})
			}

			err := CheckCurrency(snippets, "EUR")
			if tt.mismatch && !core.HasCode(err, core.ErrCodeGeoMismatch) {
				t.Errorf("Expected geo mismatch, got %v", err)
			}
			if !tt.mismatch && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
