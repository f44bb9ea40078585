package services

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexInt decodes a JSON number, numeric string, empty string or null into an int.
// Harvested catalogs are inconsistent about quoting ids.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexInt(parseLooseInt(s))
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(int(math.Floor(n)))
	return nil
}

func (f FlexInt) Int() int { return int(f) }

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(data))
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

func parseLooseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return int(math.Floor(v))
	}
	return 0
}

// UnmarshalParam lets gin bind form values into FlexInt.
func (f *FlexInt) UnmarshalParam(param string) error {
	*f = FlexInt(parseLooseInt(param))
	return nil
}

// UnmarshalParam lets gin bind form values into FlexString.
func (f *FlexString) UnmarshalParam(param string) error {
	*f = FlexString(param)
	return nil
}
