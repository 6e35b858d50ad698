package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		want      Sum
		expectErr error
	}{
		{
			name:  "bare hex defaults to sha256",
			value: helloSHA256,
			want:  Sum{Algorithm: AlgorithmSHA256, Hex: helloSHA256},
		},
		{
			name:  "prefixed and upper case",
			value: "SHA256:" + "2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824",
			want:  Sum{Algorithm: AlgorithmSHA256, Hex: helloSHA256},
		},
		{
			name:      "unknown algorithm",
			value:     "md5:5d41402abc4b2a76b9719d911017c592",
			expectErr: ErrUnknownAlgorithm,
		},
		{
			name:      "wrong length",
			value:     "sha256:abcd",
			expectErr: ErrMalformed,
		},
		{
			name:      "not hex",
			value:     "sha256:zz",
			expectErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.value)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeAndVerify(t *testing.T) {
	sum, err := Compute(AlgorithmSHA256, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+helloSHA256, sum.String())

	_, ok, err := Verify(sum, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	actual, ok, err := Verify(sum, []byte("hello!"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, sum.Hex, actual.Hex)

	blake, err := Compute(AlgorithmBLAKE2b256, []byte("hello"))
	require.NoError(t, err)
	assert.Len(t, blake.Hex, 64)

	parsed, err := Parse(blake.String())
	require.NoError(t, err)
	assert.Equal(t, blake, parsed)
}
