package shared

import "fmt"

// FulfillmentLockKey builds redis keys for order fulfillment critical sections.
func FulfillmentLockKey(refType, refID string) string {
	return fmt.Sprintf("inventory:fulfill:%s:%s", refType, refID)
}
