package img

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aarsakian/ImageAccess/cache"
	"github.com/aarsakian/ImageAccess/logger"
	"github.com/aarsakian/ImageAccess/readers"
	"github.com/aarsakian/ImageAccess/utils"
	"golang.org/x/sync/singleflight"
)

const (
	// ChunkSize is the fixed caching granule over the logical address
	// space. Cached chunks are always exactly this long, zero padded at
	// the image tail.
	ChunkSize = 64 * 1024

	DefaultCacheChunks = 32
	DefaultSectorSize  = 512
)

// Options tune an Image at open time. The zero value gives a 512-byte
// sector hint and a 32-chunk cache.
type Options struct {
	// SectorSize is the alignment hint for drivers that dislike
	// sub-sector requests.
	SectorSize int
	// CacheChunks is the chunk cache capacity.
	CacheChunks int
	// DisableCache forces the uncached, sector-rounded read path.
	DisableCache bool
	// Format overrides extension-based driver selection, e.g. "mmap"
	// to map a single-segment raw image instead of streaming it.
	Format string
}

// Image is one opened disk image: the ordered segment set, the format
// driver and the chunk cache, owned together and released together by
// Close. The read strategy (cached or sector-rounded uncached) is fixed
// here at open time.
type Image struct {
	segments   []string
	driver     readers.Driver
	size       int64
	sectorSize int

	useCache    bool
	dedupeFills bool

	cacheLock sync.Mutex
	chunks    *cache.Cache[int64, []byte]
	fills     singleflight.Group
	chunkPool *utils.SlicePool

	closed bool
}

// Open builds an Image over the given paths. A single path is expanded
// through split-segment discovery for raw images; forensic container
// formats locate their own evidence sets. Formats are selected by path
// shape: the Win32 device namespace maps to the physical-drive driver,
// .e01 to EWF, .vmdk to VMDK, everything else is treated as raw.
func Open(paths []string, opts Options) (*Image, error) {
	if len(paths) == 0 {
		return nil, NewError(ErrArgument, "no image paths supplied")
	}
	if opts.SectorSize == 0 {
		opts.SectorSize = DefaultSectorSize
	}
	if opts.CacheChunks == 0 {
		opts.CacheChunks = DefaultCacheChunks
	}

	format := opts.Format
	if format == "" {
		format = sniffFormat(paths[0])
	}

	segments := paths
	if format == "raw" && len(paths) == 1 {
		var err error
		segments, err = FindSegmentFiles(paths[0])
		if err != nil {
			return nil, err
		}
	}

	driver, err := readers.OpenDriver(format, segments)
	if err != nil {
		return nil, WrapError(ErrDriverIO, err, "opening %s image %s", format, paths[0])
	}
	return OpenWithDriver(driver, segments, opts)
}

// OpenWithDriver builds an Image over an already constructed driver, for
// callers that implement the driver contract over storage the built-in
// format set does not cover.
func OpenWithDriver(driver readers.Driver, segments []string, opts Options) (*Image, error) {
	if opts.SectorSize == 0 {
		opts.SectorSize = DefaultSectorSize
	}
	if opts.CacheChunks == 0 {
		opts.CacheChunks = DefaultCacheChunks
	}

	size := driver.GetSize()
	if size <= 0 {
		driver.Close()
		return nil, NewError(ErrDriverIO, "image (%s) reports size %d", driver.Describe(), size)
	}

	image := &Image{
		segments:   segments,
		driver:     driver,
		size:       size,
		sectorSize: opts.SectorSize,
		useCache:   !opts.DisableCache,
		chunkPool:  utils.NewSlicePool(ChunkSize),
	}
	if aligned, ok := driver.(readers.AlignedReader); ok && aligned.PreferUncached() {
		image.useCache = false
	}
	if expensive, ok := driver.(readers.ExpensiveReader); ok && expensive.ExpensiveReads() {
		image.dedupeFills = true
	}
	if image.useCache {
		chunks, err := cache.New[int64, []byte](opts.CacheChunks)
		if err != nil {
			driver.Close()
			return nil, NewError(ErrArgument, "bad cache capacity %d", opts.CacheChunks)
		}
		image.chunks = chunks
	}
	logger.IMGLogger.Info(fmt.Sprintf("image opened: %s (cached=%v)", driver.Describe(), image.useCache))
	return image, nil
}

func sniffFormat(firstPath string) string {
	if strings.HasPrefix(firstPath, `\\.\`) {
		return "physicalDrive"
	}
	switch strings.ToLower(path.Ext(firstPath)) {
	case ".e01":
		return "ewf"
	case ".vmdk":
		return "vmdk"
	}
	return "raw"
}

// ReadAt reads len(buf) bytes of the logical image starting at offset.
// A read that starts in bounds but runs past the image end returns the
// short count with a nil error; every other shortfall is an error and no
// error ever reports success. Safe for concurrent use.
func (image *Image) ReadAt(buf []byte, offset int64) (int, error) {
	if image.closed {
		return 0, NewError(ErrArgument, "image is closed")
	}
	if buf == nil {
		return 0, NewError(ErrArgument, "nil read buffer")
	}
	if offset < 0 {
		return 0, NewError(ErrArgument, "negative offset %d", offset)
	}
	if offset >= image.size {
		return 0, NewError(ErrReadOffset, "offset %d beyond image size %d", offset, image.size)
	}
	if offset > math.MaxInt64-int64(len(buf)) {
		return 0, NewError(ErrArgument, "offset %d plus length %d overflows", offset, len(buf))
	}

	length := int64(len(buf))
	if offset+length > image.size {
		length = image.size - offset
	}
	if length == 0 {
		return 0, nil
	}

	if image.useCache {
		return image.readCached(buf[:length], offset)
	}
	return image.readRounded(buf[:length], offset)
}

// readCached walks the chunk-aligned span covering the request, copying
// out of resident chunks and filling missing ones from the driver. The
// cache only ever holds full driver-sourced chunks, so a later request
// for a different sub-range of the same chunk hits without re-reading.
func (image *Image) readCached(buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		cur := offset + int64(total)
		chunkOffset := cur - cur%ChunkSize
		within := int(cur - chunkOffset)
		want := ChunkSize - within
		if want > len(buf)-total {
			want = len(buf) - total
		}

		image.cacheLock.Lock()
		data, found := image.chunks.Get(chunkOffset)
		if found {
			copy(buf[total:total+want], data[within:])
			image.cacheLock.Unlock()
			total += want
			continue
		}
		image.cacheLock.Unlock()

		if err := image.fillChunk(chunkOffset, buf[total:total+want], within); err != nil {
			return total, err
		}
		total += want
	}
	return total, nil
}

// fillChunk makes the chunk at chunkOffset resident and copies the
// requested sub-range to dst. Copy-out happens under the cache lock, the
// driver read never does.
func (image *Image) fillChunk(chunkOffset int64, dst []byte, within int) error {
	if !image.dedupeFills {
		return image.fillChunkDirect(chunkOffset, dst, within)
	}

	// Expensive drivers de-duplicate concurrent fills of one chunk.
	_, err, _ := image.fills.Do(strconv.FormatInt(chunkOffset, 10), func() (any, error) {
		return nil, image.fillChunkDirect(chunkOffset, nil, 0)
	})
	if err != nil {
		return err
	}

	image.cacheLock.Lock()
	data, found := image.chunks.Get(chunkOffset)
	if found {
		copy(dst, data[within:])
		image.cacheLock.Unlock()
		return nil
	}
	image.cacheLock.Unlock()
	// evicted between the shared fill and our lookup, fill it ourselves
	return image.fillChunkDirect(chunkOffset, dst, within)
}

func (image *Image) fillChunkDirect(chunkOffset int64, dst []byte, within int) error {
	image.cacheLock.Lock()
	// another reader may have deposited the chunk while we raced here
	if data, found := image.chunks.Get(chunkOffset); found {
		copy(dst, data[within:])
		image.cacheLock.Unlock()
		return nil
	}
	// at capacity the LRU chunk's buffer is recycled for the new read
	var chunkBuf []byte
	if image.chunks.Len() >= image.chunks.Cap() {
		if _, stolen, ok := image.chunks.RemoveOldest(); ok {
			chunkBuf = stolen
		}
	}
	image.cacheLock.Unlock()
	if chunkBuf == nil {
		chunkBuf = image.chunkPool.Get()
	}

	readLen := int64(ChunkSize)
	if chunkOffset+readLen > image.size {
		readLen = image.size - chunkOffset
		clear(chunkBuf[readLen:])
	}

	n, err := image.driver.Read(chunkOffset, chunkBuf[:readLen])
	if err != nil {
		image.chunkPool.Put(chunkBuf)
		return WrapError(ErrDriverIO, err, "chunk read at %d", chunkOffset)
	}
	if int64(n) < readLen {
		image.chunkPool.Put(chunkBuf)
		return NewError(ErrDriverIO, "chunk read at %d returned %d of %d bytes", chunkOffset, n, readLen)
	}

	image.cacheLock.Lock()
	image.chunks.Put(chunkOffset, chunkBuf)
	copy(dst, chunkBuf[within:])
	image.cacheLock.Unlock()
	return nil
}

// readRounded is the uncached path: odd lengths are rounded up to the
// sector size and read through pooled scratch, because several drivers
// mishandle sub-sector requests.
func (image *Image) readRounded(buf []byte, offset int64) (int, error) {
	length := len(buf)
	if length%image.sectorSize == 0 {
		n, err := image.driver.Read(offset, buf)
		if err != nil {
			return n, WrapError(ErrDriverIO, err, "read of %d bytes at %d", length, offset)
		}
		return n, nil
	}

	rounded := utils.RoundUp(length, image.sectorSize)
	if rounded < length {
		return 0, NewError(ErrAllocation, "cannot size %d-byte scratch for read at %d", length, offset)
	}
	scratch := utils.GetBuffer()
	defer utils.PutBuffer(scratch)
	scratch.Grow(rounded)
	tmp := scratch.Bytes()[0:rounded]

	n, err := image.driver.Read(offset, tmp)
	if err != nil {
		return 0, WrapError(ErrDriverIO, err, "rounded read of %d bytes at %d", rounded, offset)
	}
	if n > length {
		n = length
	}
	copy(buf, tmp[:n])
	if n < length && offset+int64(n) < image.size {
		return n, NewError(ErrDriverIO, "rounded read at %d returned %d of %d bytes", offset, n, length)
	}
	return n, nil
}

func (image *Image) GetSize() int64 {
	return image.size
}

func (image *Image) GetSectorSize() int {
	return image.sectorSize
}

// Segments returns the ordered segment paths backing the image.
func (image *Image) Segments() []string {
	return image.segments
}

func (image *Image) Describe() string {
	strategy := "uncached"
	if image.useCache {
		strategy = fmt.Sprintf("%d x %d KiB chunk cache", image.chunks.Cap(), ChunkSize/1024)
	}
	return fmt.Sprintf("%s | sector size %d | %s", image.driver.Describe(), image.sectorSize, strategy)
}

// Close releases the driver and the cache. The Image owns both, nothing
// outlives it. Closing twice is a no-op.
func (image *Image) Close() error {
	if image.closed {
		return nil
	}
	image.closed = true
	image.cacheLock.Lock()
	if image.chunks != nil {
		image.chunks.Clear()
	}
	image.cacheLock.Unlock()
	if err := image.driver.Close(); err != nil {
		return WrapError(ErrDriverIO, err, "closing image")
	}
	return nil
}
