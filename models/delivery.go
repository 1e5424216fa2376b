package models

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState records what happened to a delivered record.
type DeliveryState int

const (
	DeliveryAutomatic DeliveryState = iota
	DeliveryManual
	DeliveryError
	DeliveryIgnore
	DeliveryReset
	DeliveryOnlineFirst
)

func ParseDeliveryState(s string) (DeliveryState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTOMATIC":
		return DeliveryAutomatic, nil
	case "MANUAL":
		return DeliveryManual, nil
	case "ERROR":
		return DeliveryError, nil
	case "IGNORE":
		return DeliveryIgnore, nil
	case "RESET":
		return DeliveryReset, nil
	case "ONLINE_FIRST":
		return DeliveryOnlineFirst, nil
	}
	return 0, fmt.Errorf("unknown delivery state %q", s)
}

func (s DeliveryState) String() string {
	switch s {
	case DeliveryAutomatic:
		return "AUTOMATIC"
	case DeliveryManual:
		return "MANUAL"
	case DeliveryError:
		return "ERROR"
	case DeliveryIgnore:
		return "IGNORE"
	case DeliveryReset:
		return "RESET"
	case DeliveryOnlineFirst:
		return "ONLINE_FIRST"
	}
	return "UNKNOWN"
}

// RetryableDeliveryStates are the states a record may be re-delivered from.
var RetryableDeliveryStates = []DeliveryState{DeliveryError, DeliveryReset}

// DeliveredRecordEntry is one identity row of the delivery-history store.
type DeliveredRecordEntry struct {
	ID             int64
	URLs           []string
	Hash           string
	MainTitle      string
	ZederJournalID int64
	State          DeliveryState
	ErrorMessage   string
	DeliveredAt    time.Time
}
