package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"64KiB", 64 * KiB, false},
		{"64Ki", 64 * KiB, false},
		{"512kib", 512 * KiB, false},
		{"1MiB", MiB, false},
		{"1.5MiB", MiB + 512*KiB, false},
		{"100MB", 100 * MB, false},
		{"1GiB", GiB, false},
		{" 8 KiB ", 8 * KiB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{512 * KiB, "512KiB"},
		{4 * KiB, "4KiB"},
		{3 * GiB, "3GiB"},
		{1000, "1000"},
		{MiB + 1, "1048577"},
	}
	for _, tt := range tests {
		text, err := tt.in.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(text))

		var back ByteSize
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, tt.in, back)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "512 KiB", (512 * KiB).String())
	assert.Equal(t, "10 B", ByteSize(10).String())
}
