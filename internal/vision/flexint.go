package vision

import (
	"bytes"
	"strconv"
)

// FlexInt decodes a JSON number or numeric string into a non-negative
// int. Anything unparseable decodes to 0 instead of failing the whole
// response; models occasionally quote quantities.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			*f = 0
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseFloat(string(bytes.TrimSpace(b)), 64)
	if err != nil || n < 0 {
		*f = 0
		return nil
	}
	*f = FlexInt(int(n))
	return nil
}

func (f FlexInt) Int() int {
	if f < 0 {
		return 0
	}
	return int(f)
}
