package volume

import (
	"fmt"

	"github.com/aarsakian/ImageAccess/crypt"
	"github.com/aarsakian/ImageAccess/img"
	"github.com/aarsakian/ImageAccess/utils"
)

// Volume exposes a block-addressed view of one volume inside an image,
// with transparent decryption of full-volume-encrypted file systems.
// Offsets passed to Read are relative to the volume start.
type Volume struct {
	image     *img.Image
	offset    int64 // byte offset of the volume within the image
	blockSize int

	// lastBlock is the highest block address the volume claims to have,
	// lastBlockActual the highest one the backing image really covers.
	// They differ for partial or truncated acquisitions.
	lastBlock       int64
	lastBlockActual int64

	decryptor crypt.BlockDecryptor // nil for cleartext volumes
}

// NewVolume builds a volume view. nominalSize is the size the volume's
// own metadata claims, 0 to derive it from the backing image; it may
// exceed the image for partial acquisitions.
func NewVolume(image *img.Image, offset int64, blockSize int, nominalSize int64) (*Volume, error) {
	if blockSize <= 0 {
		return nil, img.NewError(img.ErrArgument, "block size %d", blockSize)
	}
	if offset < 0 || offset >= image.GetSize() {
		return nil, img.NewError(img.ErrArgument, "volume offset %d outside image of %d bytes", offset, image.GetSize())
	}
	backed := image.GetSize() - offset
	if nominalSize == 0 {
		nominalSize = backed
	}
	actual := nominalSize
	if actual > backed {
		actual = backed
	}
	return &Volume{
		image:           image,
		offset:          offset,
		blockSize:       blockSize,
		lastBlock:       nominalSize/int64(blockSize) - 1,
		lastBlockActual: actual/int64(blockSize) - 1,
	}, nil
}

// SetDecryptor flags the volume as encrypted. Every block read performed
// afterwards is decrypted with the block's absolute volume address as the
// crypto block index.
func (vol *Volume) SetDecryptor(decryptor crypt.BlockDecryptor) {
	vol.decryptor = decryptor
}

func (vol *Volume) Encrypted() bool {
	return vol.decryptor != nil
}

func (vol *Volume) GetBlockSize() int {
	return vol.blockSize
}

func (vol *Volume) GetSize() int64 {
	return (vol.lastBlock + 1) * int64(vol.blockSize)
}

func (vol *Volume) Describe() string {
	crypto := "cleartext"
	if vol.decryptor != nil {
		crypto = vol.decryptor.Describe()
	}
	return fmt.Sprintf("volume at %d, %d-byte blocks, %s | %s",
		vol.offset, vol.blockSize, crypto, vol.image.Describe())
}

// Read reads arbitrary byte ranges of the volume. Cleartext volumes pass
// straight through to the image. Encrypted volumes decrypt in place when
// the request is block aligned and block sized; otherwise the request is
// expanded to the enclosing aligned span, decrypted into scratch and the
// requested sub-range copied out, because the transform only exists over
// whole blocks.
func (vol *Volume) Read(buf []byte, offset int64) (int, error) {
	if vol.decryptor == nil {
		return vol.image.ReadAt(buf, vol.offset+offset)
	}
	if buf == nil {
		return 0, img.NewError(img.ErrArgument, "nil read buffer")
	}
	if offset < 0 {
		return 0, img.NewError(img.ErrArgument, "negative offset %d", offset)
	}

	blockSize := int64(vol.blockSize)
	if offset%blockSize == 0 && int64(len(buf))%blockSize == 0 {
		if err := vol.ReadBlocks(offset/blockSize, buf); err != nil {
			return 0, err
		}
		return len(buf), nil
	}

	start := offset - offset%blockSize
	end := offset + int64(len(buf))
	if rem := end % blockSize; rem != 0 {
		end += blockSize - rem
	}

	scratch := utils.GetBuffer()
	defer utils.PutBuffer(scratch)
	scratch.Grow(int(end - start))
	tmp := scratch.Bytes()[0 : end-start]

	if err := vol.ReadBlocks(start/blockSize, tmp); err != nil {
		return 0, err
	}
	return copy(buf, tmp[offset-start:]), nil
}

// ReadBlocks reads and, on encrypted volumes, decrypts whole blocks
// starting at the given block address. len(buf) must be a multiple of the
// block size.
func (vol *Volume) ReadBlocks(addr int64, buf []byte) error {
	blockSize := int64(vol.blockSize)
	if int64(len(buf))%blockSize != 0 {
		return img.NewError(img.ErrArgument, "read of %d bytes is not a multiple of block size %d", len(buf), vol.blockSize)
	}
	lastWanted := addr + int64(len(buf))/blockSize - 1
	if addr < 0 || lastWanted > vol.lastBlockActual {
		if lastWanted <= vol.lastBlock {
			return img.NewError(img.ErrReadOffset, "block %d missing in partial image", lastWanted)
		}
		return img.NewError(img.ErrReadOffset, "block %d is too large for volume with %d blocks", lastWanted, vol.lastBlock+1)
	}

	n, err := vol.image.ReadAt(buf, vol.offset+addr*blockSize)
	if err != nil {
		return err
	}
	if n < len(buf) {
		return img.NewError(img.ErrDriverIO, "block read at %d returned %d of %d bytes", addr, n, len(buf))
	}

	if vol.decryptor != nil {
		for i := int64(0); i < int64(len(buf))/blockSize; i++ {
			block := buf[i*blockSize : (i+1)*blockSize]
			if err := vol.decryptor.DecryptBlock(uint64(addr+i), block); err != nil {
				return err
			}
		}
	}
	return nil
}
