package registration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PhoneNumber is a consumable resource handed out by the coordination server.
// Only Number participates in identity; the rest is carried through untouched.
type PhoneNumber struct {
	Number   string            `json:"phone"`
	Carrier  string            `json:"carrier,omitempty"`
	Region   string            `json:"region,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewPhoneNumber creates a PhoneNumber with no metadata.
func NewPhoneNumber(number string) PhoneNumber {
	return PhoneNumber{Number: strings.TrimSpace(number)}
}

// String returns the number.
func (p PhoneNumber) String() string { return p.Number }

// UnmarshalJSON accepts either a bare string or an object. Object keys other
// than phone/number, carrier and region are kept in Metadata.
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = NewPhoneNumber(s)
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("phone entry must be a string or object: %w", err)
	}

	var out PhoneNumber
	for k, v := range raw {
		val := scalarString(v)
		switch strings.ToLower(k) {
		case "phone", "number":
			out.Number = strings.TrimSpace(val)
		case "carrier":
			out.Carrier = val
		case "region":
			out.Region = val
		case "metadata":
			if m, ok := v.(map[string]any); ok {
				for mk, mv := range m {
					out.setMeta(mk, scalarString(mv))
				}
			}
		default:
			out.setMeta(k, val)
		}
	}
	if out.Number == "" {
		return fmt.Errorf("phone entry has no number: %s", string(data))
	}

	*p = out
	return nil
}

func (p *PhoneNumber) setMeta(k, v string) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[k] = v
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// ParsePhoneList decodes a JSON array of phone entries.
func ParsePhoneList(data []byte) ([]PhoneNumber, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var phones []PhoneNumber
	if err := json.Unmarshal(data, &phones); err != nil {
		return nil, fmt.Errorf("failed to decode phone list: %w", err)
	}
	return phones, nil
}
