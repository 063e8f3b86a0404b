package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LayerNum is the layer index within the feature service. Init files write
// it as a number or a string.
type LayerNum string

// Int returns the layer index.
func (n LayerNum) Int() (int, error) {
	v, err := strconv.Atoi(string(n))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid service.fsLayerNum %q", string(n))
	}
	return v, nil
}

func (n *LayerNum) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*n = LayerNum(num.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("fsLayerNum: expected number or string")
	}
	*n = LayerNum(strings.TrimSpace(s))
	return nil
}

func (n *LayerNum) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		*n = LayerNum(strconv.FormatInt(val, 10))
	case string:
		*n = LayerNum(strings.TrimSpace(val))
	default:
		return fmt.Errorf("fsLayerNum: expected integer or string, got %T", v)
	}
	return nil
}

// Flag is a boolean that init files may also write as 1 or 0.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("expected 0, 1, true or false, got %s", data)
	}
	return nil
}

func (f *Flag) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case bool:
		*f = Flag(val)
	case int64:
		*f = val == 1
	default:
		return fmt.Errorf("expected boolean or integer, got %T", v)
	}
	return nil
}

// FieldList is the list of fields to report. A bare string is split on
// commas, so "*" and "NAME,TYPE" are both accepted.
type FieldList []string

func splitFields(s string) FieldList {
	var out FieldList
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *FieldList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = splitFields(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("fieldstoreport: expected string or array of strings")
	}
	*l = list
	return nil
}

func (l *FieldList) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		*l = splitFields(val)
	case []any:
		list := make(FieldList, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("fieldstoreport: expected strings, got %T", item)
			}
			list = append(list, s)
		}
		*l = list
	default:
		return fmt.Errorf("fieldstoreport: expected string or array, got %T", v)
	}
	return nil
}

// serverFields is ServerConfig without its decoding methods.
type serverFields ServerConfig

func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("email.server: %w", err)
		}
		return s.fromList(items)
	}

	var f serverFields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("email.server: %w", err)
	}
	*s = ServerConfig(f)
	return nil
}

func (s *ServerConfig) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case []any:
		return s.fromList(val)
	case map[string]any:
		var out ServerConfig
		var err error
		if out.Host, err = stringItem(val["host"]); err != nil {
			return fmt.Errorf("email.server.host: %w", err)
		}
		if out.Port, err = portItem(val["port"]); err != nil {
			return fmt.Errorf("email.server.port: %w", err)
		}
		if out.Username, err = stringItem(val["username"]); err != nil {
			return fmt.Errorf("email.server.username: %w", err)
		}
		if out.Password, err = stringItem(val["password"]); err != nil {
			return fmt.Errorf("email.server.password: %w", err)
		}
		if out.PasswordFile, err = stringItem(val["password_file"]); err != nil {
			return fmt.Errorf("email.server.password_file: %w", err)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("email.server: expected array or table, got %T", v)
	}
}

// fromList decodes the positional form [host, port, username, password].
func (s *ServerConfig) fromList(items []any) error {
	if len(items) < 2 {
		return fmt.Errorf("email.server: expected at least [host, port]")
	}
	var out ServerConfig
	var err error
	if out.Host, err = stringItem(items[0]); err != nil {
		return fmt.Errorf("email.server host: %w", err)
	}
	if out.Port, err = portItem(items[1]); err != nil {
		return fmt.Errorf("email.server port: %w", err)
	}
	if len(items) > 2 {
		if out.Username, err = stringItem(items[2]); err != nil {
			return fmt.Errorf("email.server username: %w", err)
		}
	}
	if len(items) > 3 {
		if out.Password, err = stringItem(items[3]); err != nil {
			return fmt.Errorf("email.server password: %w", err)
		}
	}
	*s = out
	return nil
}

func stringItem(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func portItem(v any) (int, error) {
	var s string
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(val), nil
	case json.Number:
		s = val.String()
	case string:
		s = val
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
