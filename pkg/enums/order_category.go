package enums

import "fmt"

// OrderCategory maps to the order_category column on cached orders. The
// category is recomputed from the carrier's free-text status at every sync,
// never accumulated.
type OrderCategory string

const (
	OrderCategoryOutForDelivery  OrderCategory = "out_for_delivery"
	OrderCategoryUndelivered     OrderCategory = "undelivered"
	OrderCategoryInTransit       OrderCategory = "in_transit"
	OrderCategoryReadyToDispatch OrderCategory = "ready_to_dispatch"
)

var validOrderCategories = []OrderCategory{
	OrderCategoryOutForDelivery,
	OrderCategoryUndelivered,
	OrderCategoryInTransit,
	OrderCategoryReadyToDispatch,
}

// Callable reports whether orders in this category are eligible for the
// automated calling pipeline.
func (c OrderCategory) Callable() bool {
	return c == OrderCategoryOutForDelivery || c == OrderCategoryUndelivered
}

// IsValid checks whether the given category matches the canonical enum.
func (c OrderCategory) IsValid() bool {
	for _, candidate := range validOrderCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseOrderCategory converts raw strings into OrderCategory.
func ParseOrderCategory(value string) (OrderCategory, error) {
	for _, candidate := range validOrderCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order category %q", value)
}
