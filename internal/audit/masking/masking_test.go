package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "abcd", "****"},
		{"plain", "supersecretvalue", "****alue"},
		{"prefixed", "rzp_live_a1b2c3d4e5", "rzp_live_****d4e5"},
		{"trailing underscore", "value_", "****lue_"},
		{"whitespace only", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MaskSecret(tc.in))
		})
	}
}

func TestMaskJSONRedactsSensitiveKeys(t *testing.T) {
	masked := MaskJSON(map[string]any{
		"api_key":   "tk_abcdef123456",
		"signature": "deadbeefcafe",
		"password":  "hunter2x",
		"route":     "/api/subscription",
		"count":     3,
	})

	require.Equal(t, "/api/subscription", masked["route"])
	require.Equal(t, 3, masked["count"])
	require.NotContains(t, masked["api_key"], "abcdef12")
	require.NotContains(t, masked["signature"], "deadbeef")
	require.NotContains(t, masked["password"], "hunter")
}

func TestMaskJSONRecursesIntoNestedValues(t *testing.T) {
	masked := MaskJSON(map[string]any{
		"webhook": map[string]any{
			"secret": "whsec_abcdefgh",
			"url":    "https://example.com/hook",
		},
		"tokens": []any{"tok_111122223333", "tok_444455556666"},
	})

	nested, ok := masked["webhook"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, nested["secret"], "abcdefgh"[:6])
	require.Equal(t, "https://example.com/hook", nested["url"])

	list, ok := masked["tokens"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	require.Equal(t, "tok_****3333", list[0])
}

func TestMaskJSONEmptyInput(t *testing.T) {
	require.Nil(t, MaskJSON(nil))
	require.Nil(t, MaskJSON(map[string]any{}))
	require.Nil(t, MaskJSON(map[string]any{" ": "ignored"}))
}
