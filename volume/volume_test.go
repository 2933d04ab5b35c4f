package volume

import (
	"bytes"
	"crypto/aes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aarsakian/ImageAccess/crypt"
	"github.com/aarsakian/ImageAccess/img"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/xts"
)

const (
	testBlockSize = 512
	testVolOffset = 3 * testBlockSize
	testVolBlocks = 16
)

var testKey = bytes.Repeat([]byte{0x5A}, 32)

// buildEncryptedImage writes a raw image holding an AES-XTS encrypted
// volume at testVolOffset and returns the image path plus the volume
// plaintext.
func buildEncryptedImage(t *testing.T) (string, []byte) {
	t.Helper()

	plaintext := make([]byte, testVolBlocks*testBlockSize)
	for i := range plaintext {
		plaintext[i] = byte(i*13 + 5)
	}

	encrypter, err := xts.NewCipher(aes.NewCipher, testKey)
	require.NoError(t, err)

	image := bytes.Repeat([]byte{0xEE}, testVolOffset)
	for block := 0; block < testVolBlocks; block++ {
		encrypted := make([]byte, testBlockSize)
		encrypter.Encrypt(encrypted, plaintext[block*testBlockSize:(block+1)*testBlockSize], uint64(block))
		image = append(image, encrypted...)
	}

	path := filepath.Join(t.TempDir(), "encrypted.dd")
	require.NoError(t, os.WriteFile(path, image, 0644))
	return path, plaintext
}

func openEncryptedVolume(t *testing.T, nominalSize int64) (*Volume, []byte) {
	t.Helper()
	path, plaintext := buildEncryptedImage(t)

	image, err := img.Open([]string{path}, img.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { image.Close() })

	vol, err := NewVolume(image, testVolOffset, testBlockSize, nominalSize)
	require.NoError(t, err)

	decryptor, err := crypt.NewXTSDecryptor(testKey, testBlockSize)
	require.NoError(t, err)
	vol.SetDecryptor(decryptor)
	return vol, plaintext
}

func TestCleartextPassthrough(t *testing.T) {
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "plain.dd")
	require.NoError(t, os.WriteFile(path, content, 0644))

	image, err := img.Open([]string{path}, img.Options{})
	require.NoError(t, err)
	defer image.Close()

	vol, err := NewVolume(image, 1024, testBlockSize, 0)
	require.NoError(t, err)
	require.False(t, vol.Encrypted())

	buf := make([]byte, 100)
	n, err := vol.Read(buf, 30)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.True(t, bytes.Equal(content[1054:1154], buf))
}

func TestEncryptedBlockRead(t *testing.T) {
	vol, plaintext := openEncryptedVolume(t, 0)

	buf := make([]byte, 2*testBlockSize)
	require.NoError(t, vol.ReadBlocks(3, buf))
	assert.True(t, bytes.Equal(plaintext[3*testBlockSize:5*testBlockSize], buf))
}

func TestEncryptedAlignedRead(t *testing.T) {
	vol, plaintext := openEncryptedVolume(t, 0)

	// block aligned and block sized, decrypts in place on the caller buffer
	buf := make([]byte, 3*testBlockSize)
	n, err := vol.Read(buf, 2*testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, bytes.Equal(plaintext[2*testBlockSize:5*testBlockSize], buf))
}

func TestEncryptedUnalignedRead(t *testing.T) {
	vol, plaintext := openEncryptedVolume(t, 0)

	// starts and ends mid-block, spans several blocks
	buf := make([]byte, 2*testBlockSize+100)
	n, err := vol.Read(buf, 5*testBlockSize-37)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	start := 5*testBlockSize - 37
	assert.True(t, bytes.Equal(plaintext[start:start+len(buf)], buf))
}

func TestEncryptedReadDeterministic(t *testing.T) {
	vol, _ := openEncryptedVolume(t, 0)

	first := make([]byte, 700)
	second := make([]byte, 700)
	_, err := vol.Read(first, 123)
	require.NoError(t, err)
	_, err = vol.Read(second, 123)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestWrongKeyGarblesButVolumeStaysUsable(t *testing.T) {
	vol, plaintext := openEncryptedVolume(t, 0)

	wrong, err := crypt.NewXTSDecryptor(bytes.Repeat([]byte{0x01}, 32), testBlockSize)
	require.NoError(t, err)
	vol.SetDecryptor(wrong)

	buf := make([]byte, testBlockSize)
	require.NoError(t, vol.ReadBlocks(0, buf))
	assert.False(t, bytes.Equal(plaintext[:testBlockSize], buf))

	// swapping the right key back recovers, the volume was never closed
	good, err := crypt.NewXTSDecryptor(testKey, testBlockSize)
	require.NoError(t, err)
	vol.SetDecryptor(good)
	require.NoError(t, vol.ReadBlocks(0, buf))
	assert.True(t, bytes.Equal(plaintext[:testBlockSize], buf))
}

func TestBlockReadRejectsOddLength(t *testing.T) {
	vol, _ := openEncryptedVolume(t, 0)

	err := vol.ReadBlocks(0, make([]byte, testBlockSize+3))
	assert.ErrorIs(t, err, &img.Error{Kind: img.ErrArgument})
}

func TestPartialImageDistinction(t *testing.T) {
	// the volume claims more blocks than the acquisition backs
	nominal := int64((testVolBlocks + 10) * testBlockSize)
	vol, _ := openEncryptedVolume(t, nominal)

	buf := make([]byte, testBlockSize)

	err := vol.ReadBlocks(testVolBlocks+2, buf)
	require.ErrorIs(t, err, &img.Error{Kind: img.ErrReadOffset})
	assert.True(t, strings.Contains(err.Error(), "partial"), "missing-in-partial-image reads say so: %v", err)

	err = vol.ReadBlocks(testVolBlocks+100, buf)
	require.ErrorIs(t, err, &img.Error{Kind: img.ErrReadOffset})
	assert.False(t, strings.Contains(err.Error(), "partial"))
}

func TestVolumeRejectsBadGeometry(t *testing.T) {
	path, _ := buildEncryptedImage(t)
	image, err := img.Open([]string{path}, img.Options{})
	require.NoError(t, err)
	defer image.Close()

	_, err = NewVolume(image, -1, testBlockSize, 0)
	assert.Error(t, err)
	_, err = NewVolume(image, image.GetSize()+5, testBlockSize, 0)
	assert.Error(t, err)
	_, err = NewVolume(image, 0, 0, 0)
	assert.Error(t, err)
}
