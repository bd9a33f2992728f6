package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON renders the value in its canonical JSON wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindDouble:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, v.kind)
	}
}

// UnmarshalJSON decodes JSON while keeping integral numbers as int64.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	decoded, err := decodeToken(decoder)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func decodeToken(decoder *json.Decoder) (Value, error) {
	token, err := decoder.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeFromToken(decoder, token)
}

func decodeFromToken(decoder *json.Decoder, token json.Token) (Value, error) {
	switch typed := token.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case json.Number:
		//1.- Prefer the integer interpretation so round-trips keep int64 identity.
		if !strings.ContainsAny(typed.String(), ".eE") {
			if parsed, err := typed.Int64(); err == nil {
				return Int(parsed), nil
			}
		}
		parsed, err := typed.Float64()
		if err != nil {
			return Value{}, err
		}
		return Double(parsed), nil
	case json.Delim:
		switch typed {
		case '[':
			items := make([]Value, 0)
			for decoder.More() {
				item, err := decodeToken(decoder)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindArray, arr: items}, nil
		case '{':
			fields := make(map[string]Value)
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return Value{}, fmt.Errorf("%w: non-string object key", ErrUnsupportedKey)
				}
				entry, err := decodeToken(decoder)
				if err != nil {
					return Value{}, err
				}
				fields[key] = entry
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindObject, obj: fields}, nil
		}
	}
	return Value{}, fmt.Errorf("%w: unexpected JSON token %v", ErrUnsupportedValue, token)
}
