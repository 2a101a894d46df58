package formats

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/uft/disk"
)

func TestDetectKeepsOnlyMatchesAboveThreshold(t *testing.T) {
	data := make([]byte, disk.FloppyDiskBytes)
	matches := Detect(data)
	require.NotEmpty(t, matches, "expected at least one candidate for a 143,360-byte buffer")
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, detectThreshold, "match %v scored below threshold", m)
	}
}

func TestIdentifyUnknownSizeReturnsFalse(t *testing.T) {
	_, ok := Identify([]byte{1, 2, 3})
	assert.False(t, ok, "expected no confident match for 3 random bytes")
}

func TestGetByPlatformApple2(t *testing.T) {
	descs := GetByPlatform("apple2")
	tags := map[Tag]bool{}
	for _, d := range descs {
		tags[d.Tag] = true
	}
	assert.True(t, tags[DSK] && tags[WOZ] && tags[NIB], "expected DSK, WOZ, and NIB under platform apple2; got %+v", descs)
}

// buildMinimalWoz assembles a syntactically valid, minimal .woz image:
// a WOZ1 header, an INFO chunk, and a TMAP chunk, with a correct
// header CRC32 over the chunks.
func buildMinimalWoz(t *testing.T) []byte {
	t.Helper()
	var body bytes.Buffer

	info := make([]byte, 60)
	info[0] = 2 // version
	info[1] = byte(WozDiskType525)
	copy(info[5:37], []byte("uft test suite                  "))
	writeChunk(&body, "INFO", info)

	tmap := make([]byte, 160)
	for i := range tmap {
		tmap[i] = 0xFF
	}
	writeChunk(&body, "TMAP", tmap)

	crc := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	out.WriteString(wozHeader1)
	binary.Write(&out, binary.LittleEndian, crc)
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeChunk(buf *bytes.Buffer, id string, data []byte) {
	buf.WriteString(id)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

func TestDecodeWozRoundtrip(t *testing.T) {
	raw := buildMinimalWoz(t)
	wz, err := DecodeWoz(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, WozDiskType525, wz.Info.DiskType)
	assert.Equal(t, byte(0xFF), wz.TMap[0])
}

func TestWozProfileDetectsBuiltImage(t *testing.T) {
	raw := buildMinimalWoz(t)
	tag, ok := Identify(raw)
	require.True(t, ok, "expected WOZ to be identified with high confidence")
	assert.Equal(t, WOZ, tag)
}
