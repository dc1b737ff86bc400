package wavwriter

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderOnlyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 48000, Channels: 2, BitDepth: 16}))

	checksum, err := w.Close(nil, 2, 16)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, contents, 44)

	require.Equal(t, uint32(36), binary.LittleEndian.Uint32(contents[4:8]))
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(contents[40:44]))

	sum := sha256.Sum256(contents)
	require.Equal(t, hex.EncodeToString(sum[:]), checksum)
}

func TestHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 44100, Channels: 1, BitDepth: 16}))
	require.NoError(t, w.Write(make([]byte, 100)))
	_, err := w.Close(nil, 1, 16)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, "RIFF", string(contents[0:4]))
	require.Equal(t, "WAVE", string(contents[8:12]))
	require.Equal(t, "fmt ", string(contents[12:16]))
	require.Equal(t, "data", string(contents[36:40]))

	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(contents[22:24]))
	require.Equal(t, uint32(44100), binary.LittleEndian.Uint32(contents[24:28]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(contents[34:36]))
	require.Equal(t, uint32(len(contents)-44), binary.LittleEndian.Uint32(contents[40:44]))
	require.Equal(t, uint32(len(contents)-8), binary.LittleEndian.Uint32(contents[4:8]))
	require.Equal(t, uint32(44100*1*16/8), binary.LittleEndian.Uint32(contents[28:32]))
	require.Equal(t, uint16(1*16/8), binary.LittleEndian.Uint16(contents[32:34]))
}

func TestRateFixUpOverridesHeaderOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 48000, Channels: 2, BitDepth: 16}))
	require.NoError(t, w.Write(make([]byte, 400)))

	actual := 16000.0
	_, err := w.Close(&actual, 2, 16)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, uint32(16000), binary.LittleEndian.Uint32(contents[24:28]))
	require.Equal(t, uint32(16000*2*16/8), binary.LittleEndian.Uint32(contents[28:32]))
	require.Equal(t, uint16(2*16/8), binary.LittleEndian.Uint16(contents[32:34]))
}

func TestWriteRequiresOpen(t *testing.T) {
	var w Writer
	require.Error(t, w.Write([]byte("x")))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 48000, Channels: 2, BitDepth: 16}))
	require.NoError(t, w.Write([]byte{1, 2, 3, 4}))
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 48000, Channels: 2, BitDepth: 16}))

	require.Equal(t, int64(44+4), w.BytesWritten())
}

type xorEncryptor struct{ key byte }

func (e xorEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext)+1)
	out[0] = e.key
	for i, b := range plaintext {
		out[i+1] = b ^ e.key
	}
	return out, nil
}

func TestEncryptedWriteUsesLengthPrefixedChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.enc.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 16000, Channels: 1, BitDepth: 16, Encryptor: xorEncryptor{key: 0x42}}))
	require.NoError(t, w.Write([]byte{1, 2, 3}))
	require.NoError(t, w.Write([]byte{4, 5}))

	require.Equal(t, int64(44+(4+4)+(4+3)), w.BytesWritten())

	_, err := w.Close(nil, 1, 16)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	offset := 44
	firstLen := binary.LittleEndian.Uint32(contents[offset : offset+4])
	require.Equal(t, uint32(4), firstLen)
	offset += 4 + int(firstLen)

	secondLen := binary.LittleEndian.Uint32(contents[offset : offset+4])
	require.Equal(t, uint32(3), secondLen)
}

type failingEncryptor struct{}

func (failingEncryptor) Encrypt([]byte) ([]byte, error) {
	return nil, errors.New("key unavailable")
}

func TestWriteWrapsEncryptorFailureAsErrEncryptChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.enc.wav")

	var w Writer
	require.NoError(t, w.Open(Config{Path: path, SampleRate: 16000, Channels: 1, BitDepth: 16, Encryptor: failingEncryptor{}}))

	err := w.Write([]byte{1, 2, 3})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEncryptChunk)
}
