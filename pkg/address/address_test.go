package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{
			name:    "valid lowercase",
			address: "0xde709f2102306220921060314715629080e2fb77",
			want:    true,
		},
		{
			name:    "valid uppercase hex",
			address: "0xDE709F2102306220921060314715629080E2FB77",
			want:    true,
		},
		{
			name:    "valid checksummed",
			address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			want:    true,
		},
		{
			name:    "bad checksum",
			address: "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			want:    false,
		},
		{
			name:    "missing prefix",
			address: "de709f2102306220921060314715629080e2fb77",
			want:    true,
		},
		{
			name:    "too short",
			address: "0xde709f",
			want:    false,
		},
		{
			name:    "not hex",
			address: "0xzz709f2102306220921060314715629080e2fb77",
			want:    false,
		},
		{
			name:    "empty",
			address: "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.address))
		})
	}
}
