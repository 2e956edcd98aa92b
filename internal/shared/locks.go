package shared

import (
	"fmt"
	"time"
)

// SeedLockKey builds the redis lock key guarding report seeding for one
// location and day.
func SeedLockKey(locationID int64, day time.Time) string {
	return fmt.Sprintf("inventory:seed:%d:%s", locationID, day.Format(DateLayout))
}
