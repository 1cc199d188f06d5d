package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// Known IEEE CRC-32 vector.
	assert.Equal(t, uint32(0xCBF43926), Checksum([]byte("123456789")))
	assert.Equal(t, uint32(0), Checksum(nil))
}

func TestVerify(t *testing.T) {
	data := []byte("chunk payload")
	sum := Checksum(data)

	assert.True(t, Verify(data, sum))
	assert.False(t, Verify(data, sum+1))

	// Single-byte mutation must be detected.
	mutated := append([]byte(nil), data...)
	mutated[0] ^= 0x01
	assert.False(t, Verify(mutated, sum))
}
