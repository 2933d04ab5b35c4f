package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/aarsakian/ImageAccess/img"
	"golang.org/x/crypto/xts"
)

// BlockDecryptor decrypts one whole file-system block in place. The
// transform is defined only over full blocks and is keyed by the block
// index, not a byte offset, so callers must expand unaligned requests to
// the enclosing aligned span before invoking it.
type BlockDecryptor interface {
	DecryptBlock(blockIndex uint64, buf []byte) error
	Describe() string
}

// XTSDecryptor handles AES-XTS encrypted volumes, the common mode of
// current full-volume encryption. The block index is fed to the cipher as
// the XTS data unit number.
type XTSDecryptor struct {
	cipher    *xts.Cipher
	blockSize int
}

// NewXTSDecryptor builds an AES-XTS decryptor. The key holds the two
// concatenated AES keys (32 or 64 bytes), blockSize is the encrypted
// granularity, a multiple of the AES block size.
func NewXTSDecryptor(key []byte, blockSize int) (*XTSDecryptor, error) {
	if blockSize <= 0 || blockSize%aes.BlockSize != 0 {
		return nil, img.NewError(ErrKind, "xts block size %d is not a multiple of %d", blockSize, aes.BlockSize)
	}
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, img.WrapError(ErrKind, err, "initializing AES-XTS cipher")
	}
	return &XTSDecryptor{cipher: c, blockSize: blockSize}, nil
}

func (decryptor *XTSDecryptor) DecryptBlock(blockIndex uint64, buf []byte) error {
	if len(buf) != decryptor.blockSize {
		return img.NewError(ErrKind, "xts decrypt of %d bytes, block size is %d", len(buf), decryptor.blockSize)
	}
	decryptor.cipher.Decrypt(buf, buf, blockIndex)
	return nil
}

func (decryptor *XTSDecryptor) Describe() string {
	return fmt.Sprintf("AES-XTS, %d-byte blocks", decryptor.blockSize)
}

// CBCDecryptor handles AES-CBC encrypted volumes where each block's IV is
// the block's byte offset encrypted under a dedicated IV key (the
// no-diffuser scheme of early BitLocker volumes).
type CBCDecryptor struct {
	data      cipher.Block
	iv        cipher.Block
	blockSize int
}

func NewCBCDecryptor(key []byte, ivKey []byte, blockSize int) (*CBCDecryptor, error) {
	if blockSize <= 0 || blockSize%aes.BlockSize != 0 {
		return nil, img.NewError(ErrKind, "cbc block size %d is not a multiple of %d", blockSize, aes.BlockSize)
	}
	data, err := aes.NewCipher(key)
	if err != nil {
		return nil, img.WrapError(ErrKind, err, "initializing AES data key")
	}
	iv, err := aes.NewCipher(ivKey)
	if err != nil {
		return nil, img.WrapError(ErrKind, err, "initializing AES IV key")
	}
	return &CBCDecryptor{data: data, iv: iv, blockSize: blockSize}, nil
}

// BlockIV derives the initialization vector of a block: its byte offset
// as a 16-byte little-endian value, encrypted under the IV key.
func (decryptor *CBCDecryptor) BlockIV(blockIndex uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(iv, blockIndex*uint64(decryptor.blockSize))
	decryptor.iv.Encrypt(iv, iv)
	return iv
}

func (decryptor *CBCDecryptor) DecryptBlock(blockIndex uint64, buf []byte) error {
	if len(buf) != decryptor.blockSize {
		return img.NewError(ErrKind, "cbc decrypt of %d bytes, block size is %d", len(buf), decryptor.blockSize)
	}
	cipher.NewCBCDecrypter(decryptor.data, decryptor.BlockIV(blockIndex)).CryptBlocks(buf, buf)
	return nil
}

func (decryptor *CBCDecryptor) Describe() string {
	return fmt.Sprintf("AES-CBC with offset IVs, %d-byte blocks", decryptor.blockSize)
}

// ErrKind is the taxonomy kind every decryption failure carries.
const ErrKind = img.ErrDecryption
