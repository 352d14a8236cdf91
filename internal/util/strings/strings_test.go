package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseConversions(t *testing.T) {
	tests := []struct {
		in                          string
		snake, kebab, pascal, camel string
	}{
		{"ProductName", "product_name", "product-name", "ProductName", "productName"},
		{"HTTPRequest", "http_request", "http-request", "HTTPRequest", "hTTPRequest"},
		{"order_placed", "order_placed", "order-placed", "OrderPlaced", "orderPlaced"},
		{"inventory", "inventory", "inventory", "Inventory", "inventory"},
		{"Sku2Code", "sku2_code", "sku2-code", "Sku2Code", "sku2Code"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.snake, ToSnakeCase(tt.in))
			assert.Equal(t, tt.kebab, ToKebabCase(tt.in))
			assert.Equal(t, tt.pascal, ToPascalCase(tt.in))
			assert.Equal(t, tt.camel, ToCamelCase(tt.in))
		})
	}
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "inventories", Pluralize("inventory"))
	assert.Equal(t, "orders", Pluralize("order"))
	assert.Equal(t, "addresses", Pluralize("address"))
	assert.Equal(t, "days", Pluralize("day"))
	assert.Equal(t, "", Pluralize(""))
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"OrderPlaced", "OrderPlacd", 1},
		{"Inventory", "Inventory", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b))
		})
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"OrderPlaced", "OrderPaid", "StockDecreased"}

	assert.Equal(t, []string{"OrderPlaced", "OrderPaid"}, FindSimilar("OrderPlacd", candidates, nil))
	assert.Equal(t, []string{"OrderPlaced"}, FindSimilar("orderplaced", candidates, &FuzzyMatchOptions{MaxDistance: 1}))
	assert.Empty(t, FindSimilar("Shipment", candidates, nil))
	assert.Empty(t, FindSimilar("orderplaced", candidates, &FuzzyMatchOptions{CaseSensitive: true, MaxDistance: 1}))
}

func TestFindSimilarStableTies(t *testing.T) {
	got := FindSimilar("Ab", []string{"Ac", "Ad", "Ae", "Af"}, &FuzzyMatchOptions{MaxSuggestions: 2})
	assert.Equal(t, []string{"Ac", "Ad"}, got)
}
