package vision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlexIntUnmarshal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{`3`, 3},
		{`"7"`, 7},
		{`"  12 "`, 12},
		{`3.0`, 3},
		{`-2`, 0},
		{`"-2"`, 0},
		{`"banana"`, 0},
		{`null`, 0},
		{`true`, 0},
	}
	for _, tc := range cases {
		var f FlexInt
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), tc.in)
		require.Equal(t, tc.want, f.Int(), tc.in)
	}
}

func TestFlexIntInsideRawOrdered(t *testing.T) {
	t.Parallel()

	payload := `{"id":"ketchup","name":"Ketchup","quantity":"4","unit":"packs"}`
	var it RawOrdered
	require.NoError(t, json.Unmarshal([]byte(payload), &it))
	require.Equal(t, 4, it.Quantity.Int())
}
