package config

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// FulfillmentConfig is the weekly charge window.
type FulfillmentConfig struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// LoadFulfillmentConfig reads FULFILLMENT_WEEKDAY (default tuesday),
// FULFILLMENT_HOUR (default 19) and FULFILLMENT_TZ (default Europe/London).
func LoadFulfillmentConfig() FulfillmentConfig {
	day, err := ParseWeekday(envStr("FULFILLMENT_WEEKDAY", "tuesday"))
	if err != nil {
		log.Fatalf("invalid FULFILLMENT_WEEKDAY: %v", err)
	}
	hour := envInt("FULFILLMENT_HOUR", 19)
	if hour < 0 || hour > 23 {
		log.Fatalf("invalid FULFILLMENT_HOUR: %d", hour)
	}
	tz := envStr("FULFILLMENT_TZ", "Europe/London")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Fatalf("invalid FULFILLMENT_TZ %q: %v", tz, err)
	}
	return FulfillmentConfig{Weekday: day, Hour: hour, Location: loc}
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
