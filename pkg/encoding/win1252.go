package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 returns b unchanged when it is valid UTF-8 and otherwise decodes it
// as Windows-1252, the charset older messaging gateways still post.
func ToUTF8(b []byte) []byte {
	if len(b) == 0 || utf8.Valid(b) {
		return b
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return b
	}
	return decoded
}
