package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+55 (11) 99999-8888", "5511999998888"},
		{"11999998888", "5511999998888"},
		{"1133334444", "551133334444"},
		{"005511999998888", "5511999998888"},
		{"5511999998888@c.us", "5511999998888"},
		{"＋５５１１９９９９９８８８８", "5511999998888"},
		{"447911123456", "447911123456"},
		{"+1 415 555 1234", "14155551234"},
		{"14155551234@s.whatsapp.net", "14155551234"},
		{"0014155551234", "14155551234"},
		{"+44 20 7946 0958", "442079460958"},
		{"4155551234", "554155551234"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in, "55")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "12345", "1234567890123456"} {
		_, err := NormalizePhone(in, "55")
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}
