package markdown

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"Лот №5. Поставка (HPE)!", `Лот №5\. Поставка \(HPE\)\!`},
		{`a\b_c*d`, `a\\b\_c\*d`},
		{"<b>Cisco</b>", `<b\>Cisco</b\>`},
	}

	for _, test := range tests {
		require.Equal(t, test.want, EscapeV2(test.in), test.in)
	}
}

func TestLinkEscapesOnlyClosingParenAndBackslashInURL(t *testing.T) {
	require.Equal(t, `[Тендер \[1\]](https://example.com/a_(b\)?x=1.2)`,
		Link("Тендер [1]", "https://example.com/a_(b)?x=1.2"))
}

func TestTrimEscapedDropsDanglingBackslash(t *testing.T) {
	escaped := EscapeV2("ab.cd")

	require.Equal(t, "ab", TrimEscaped(escaped, 3))
	require.Equal(t, `ab\.`, TrimEscaped(escaped, 4))
	require.Equal(t, "при", TrimEscaped("привет", 3))
	require.Equal(t, "short", TrimEscaped("short", 10))
}

func TestEscapeCode(t *testing.T) {
	require.Equal(t, "a\\`b\\\\c_d", EscapeCode("a`b\\c_d"))
}
