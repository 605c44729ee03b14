package codec

import "fmt"

// Raw passes []byte and string values through unchanged. Useful when a cache
// only ever holds fragments or fetched documents.
type Raw struct{}

func (Raw) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("codec: raw cannot marshal %T", v)
	}
}

func (Raw) Unmarshal(b []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = append((*t)[:0], b...)
	case *string:
		*t = string(b)
	default:
		return fmt.Errorf("codec: raw cannot unmarshal into %T", v)
	}
	return nil
}
