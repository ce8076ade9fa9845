package endian

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetLittleEndianEngine is the only constructor pagefile and walfile
// actually call (both wire formats are little-endian); these tests
// cover that path plus the AppendByteOrder half of the interface the
// plain binary.ByteOrder doesn't give for free.
func TestGetLittleEndianEngine(t *testing.T) {
	engine := GetLittleEndianEngine()

	require.Implements(t, (*EndianEngine)(nil), engine)
	assert.Equal(t, binary.LittleEndian, engine)

	buf := make([]byte, 2)
	engine.PutUint16(buf, 0x0102)
	assert.Equal(t, []byte{0x02, 0x01}, buf)
	assert.Equal(t, uint16(0x0102), engine.Uint16(buf))
}

func TestGetLittleEndianEngine_Append(t *testing.T) {
	engine := GetLittleEndianEngine()

	var buf []byte
	buf = engine.AppendUint32(buf, 0x01020304)
	buf = engine.AppendUint64(buf, 0x0102030405060708)

	assert.Equal(t, uint32(0x01020304), engine.Uint32(buf[:4]))
	assert.Equal(t, uint64(0x0102030405060708), engine.Uint64(buf[4:]))
}
