package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// AlertStatus is the lifecycle state of an AlertRecord
type AlertStatus uint8

const (
	AlertPending AlertStatus = iota + 1
	AlertSent
	// AlertCleared marks a pending alert withdrawn because the price
	// recovered above target before it was sent.
	AlertCleared
)

var alertStatusNames = map[AlertStatus]string{
	AlertPending: "pending",
	AlertSent:    "sent",
	AlertCleared: "cleared",
}

func (s AlertStatus) String() string {
	if name, ok := alertStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AlertStatus(%d)", uint8(s))
}

func (s AlertStatus) IsValid() bool {
	_, ok := alertStatusNames[s]
	return ok
}

// ParseAlertStatus converts the stored representation back to a status
func ParseAlertStatus(v string) (AlertStatus, error) {
	for status, name := range alertStatusNames {
		if name == v {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown alert status %q", v)
}

func (s AlertStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid alert status %d", uint8(s))
	}
	return s.String(), nil
}

func (s *AlertStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into AlertStatus", src)
	}
	parsed, err := ParseAlertStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s AlertStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AlertStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseAlertStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
