package core

import "time"

// DailyAmount is one (date, amount) pair of a historical or forecast series.
type DailyAmount struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}
