package tracking

import (
	"strings"

	"github.com/shipvox/shipvox-backend/pkg/enums"
)

var (
	ofdKeywords = []string{
		"out for delivery",
		"ofd",
		"dispatched for delivery",
	}
	undeliveredKeywords = []string{
		"undelivered",
		"not delivered",
		"delivery failed",
	}
)

// ClassifyStatus maps a carrier's free-text status to a callable category.
// Rules apply in order: delivered (but not undelivered) and RTO statuses are
// discarded, then OFD keywords, then undelivered keywords. Anything else is
// not callable and returns ok=false.
func ClassifyStatus(status string) (category enums.OrderCategory, ok bool) {
	lowered := strings.ToLower(strings.TrimSpace(status))
	if lowered == "" {
		return "", false
	}
	if strings.Contains(lowered, "delivered") && !strings.Contains(lowered, "undelivered") {
		return "", false
	}
	if strings.Contains(lowered, "rto") {
		return "", false
	}
	for _, keyword := range ofdKeywords {
		if strings.Contains(lowered, keyword) {
			return enums.OrderCategoryOutForDelivery, true
		}
	}
	for _, keyword := range undeliveredKeywords {
		if strings.Contains(lowered, keyword) {
			return enums.OrderCategoryUndelivered, true
		}
	}
	return "", false
}
