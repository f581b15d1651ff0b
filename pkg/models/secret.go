package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const redacted = "[redacted]"

// Secret holds a private key or token secret. It formats and marshals redacted so
// it cannot leak through logs or API payloads; Reveal returns the raw value.
type Secret string

func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) IsZero() bool {
	return s == ""
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *Secret) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = ""
	case string:
		*s = Secret(v)
	case []byte:
		*s = Secret(v)
	default:
		return fmt.Errorf("Secret.Scan: unsupported type %T", src)
	}
	return nil
}
