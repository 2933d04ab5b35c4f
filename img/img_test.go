package img

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// mockDriver serves a deterministic in-memory pattern and counts calls,
// so tests can assert how many driver reads a dispatcher path performs.
type mockDriver struct {
	data      []byte
	size      int64
	readCalls int32
	lastLen   int32
	closes    int32
	delay     time.Duration
}

func newMockDriver(size int) *mockDriver {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	return &mockDriver{data: data, size: int64(size)}
}

func (driver *mockDriver) Read(offset int64, buf []byte) (int, error) {
	atomic.AddInt32(&driver.readCalls, 1)
	atomic.StoreInt32(&driver.lastLen, int32(len(buf)))
	if driver.delay > 0 {
		time.Sleep(driver.delay)
	}
	if remaining := driver.size - offset; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	return copy(buf, driver.data[offset:]), nil
}

func (driver *mockDriver) GetSize() int64 {
	return driver.size
}

func (driver *mockDriver) Close() error {
	atomic.AddInt32(&driver.closes, 1)
	return nil
}

func (driver *mockDriver) Describe() string {
	return "mock driver"
}

func (driver *mockDriver) calls() int {
	return int(atomic.LoadInt32(&driver.readCalls))
}

type expensiveDriver struct{ *mockDriver }

func (expensiveDriver) ExpensiveReads() bool { return true }

type alignedDriver struct{ *mockDriver }

func (alignedDriver) PreferUncached() bool { return true }

func openMock(t *testing.T, driver *mockDriver, opts Options) *Image {
	t.Helper()
	image, err := OpenWithDriver(driver, []string{"mock"}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { image.Close() })
	return image
}

func TestReadExactAndDeterministic(t *testing.T) {
	driver := newMockDriver(3*ChunkSize + 1234)
	image := openMock(t, driver, Options{})

	ranges := []struct {
		offset int64
		length int
	}{
		{0, 10},
		{1, 1},
		{ChunkSize - 5, 10},             // spans a chunk boundary
		{ChunkSize, ChunkSize},          // exactly one chunk
		{100, 2*ChunkSize + 300},        // spans two boundaries
		{3 * ChunkSize, 1234},           // the partial tail chunk
		{int64(driver.size) - 7, 7},     // up to the last byte
	}
	for _, r := range ranges {
		buf := make([]byte, r.length)
		n, err := image.ReadAt(buf, r.offset)
		require.NoError(t, err, "read %d@%d", r.length, r.offset)
		require.Equal(t, r.length, n)
		assert.True(t, bytes.Equal(driver.data[r.offset:r.offset+int64(r.length)], buf),
			"read %d@%d returned wrong data", r.length, r.offset)

		again := make([]byte, r.length)
		n, err = image.ReadAt(again, r.offset)
		require.NoError(t, err)
		require.Equal(t, r.length, n)
		assert.True(t, bytes.Equal(buf, again), "repeated read %d@%d differs", r.length, r.offset)
	}
}

func TestChunkFillCounts(t *testing.T) {
	driver := newMockDriver(4 * ChunkSize)
	image := openMock(t, driver, Options{})

	buf := make([]byte, 100)

	// first touch of chunks 0 and 1
	_, err := image.ReadAt(buf, ChunkSize-50)
	require.NoError(t, err)
	assert.Equal(t, 2, driver.calls())

	// both resident now, any sub-range of them is free
	_, err = image.ReadAt(buf, ChunkSize-50)
	require.NoError(t, err)
	_, err = image.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, driver.calls())

	// spans resident chunk 1 and missing chunk 2: exactly one more fill
	_, err = image.ReadAt(buf, 2*ChunkSize-50)
	require.NoError(t, err)
	assert.Equal(t, 3, driver.calls())
}

func TestTailReadIsClippedNotFailed(t *testing.T) {
	driver := newMockDriver(2*ChunkSize + 100)
	image := openMock(t, driver, Options{})

	buf := make([]byte, 100)
	n, err := image.ReadAt(buf, driver.size-1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, driver.data[driver.size-1], buf[0])
}

func TestValidationOrder(t *testing.T) {
	driver := newMockDriver(ChunkSize)
	image := openMock(t, driver, Options{})

	_, err := image.ReadAt(nil, 0)
	assert.ErrorIs(t, err, &Error{Kind: ErrArgument})

	_, err = image.ReadAt(make([]byte, 8), -1)
	assert.ErrorIs(t, err, &Error{Kind: ErrArgument})

	_, err = image.ReadAt(make([]byte, 8), driver.size)
	assert.ErrorIs(t, err, &Error{Kind: ErrReadOffset})

	_, err = image.ReadAt(make([]byte, 8), driver.size+12345)
	assert.ErrorIs(t, err, &Error{Kind: ErrReadOffset})

	// no driver activity for rejected arguments
	assert.Equal(t, 0, driver.calls())
}

func TestOffsetLengthOverflow(t *testing.T) {
	driver := newMockDriver(16)
	driver.size = math.MaxInt64 - 4 // nominal size, not backed by data
	image := openMock(t, driver, Options{})

	_, err := image.ReadAt(make([]byte, 64), math.MaxInt64-32)
	assert.ErrorIs(t, err, &Error{Kind: ErrArgument})
	assert.Equal(t, 0, driver.calls())
}

func TestZeroLengthRead(t *testing.T) {
	driver := newMockDriver(ChunkSize)
	image := openMock(t, driver, Options{})

	n, err := image.ReadAt(make([]byte, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, driver.calls())
}

func TestUncachedPathRoundsToSector(t *testing.T) {
	driver := newMockDriver(8192)
	image, err := OpenWithDriver(alignedDriver{driver}, []string{"mock"}, Options{})
	require.NoError(t, err)
	defer image.Close()

	require.False(t, image.useCache)

	buf := make([]byte, 100)
	n, err := image.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.True(t, bytes.Equal(driver.data[:100], buf))
	// the driver must have seen a whole-sector request
	assert.Equal(t, int32(DefaultSectorSize), atomic.LoadInt32(&driver.lastLen))

	// already aligned requests pass through untouched
	aligned := make([]byte, 1024)
	_, err = image.ReadAt(aligned, 512)
	require.NoError(t, err)
	assert.Equal(t, int32(1024), atomic.LoadInt32(&driver.lastLen))
}

func TestDisableCacheOption(t *testing.T) {
	driver := newMockDriver(4096)
	image := openMock(t, driver, Options{DisableCache: true})
	require.False(t, image.useCache)

	buf := make([]byte, 512)
	_, err := image.ReadAt(buf, 512)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(driver.data[512:1024], buf))
}

func TestDedupedFillsReadOnce(t *testing.T) {
	driver := newMockDriver(2 * ChunkSize)
	driver.delay = 50 * time.Millisecond
	image, err := OpenWithDriver(expensiveDriver{driver}, []string{"mock"}, Options{})
	require.NoError(t, err)
	defer image.Close()

	require.True(t, image.dedupeFills)

	const workers = 8
	var start sync.WaitGroup
	start.Add(1)
	var group errgroup.Group
	for w := 0; w < workers; w++ {
		group.Go(func() error {
			start.Wait()
			buf := make([]byte, 128)
			_, err := image.ReadAt(buf, 64)
			return err
		})
	}
	start.Done()
	require.NoError(t, group.Wait())

	assert.Equal(t, 1, driver.calls(), "concurrent fills of one chunk should collapse into one read")
}

func TestConcurrentReadsSeeIdenticalBytes(t *testing.T) {
	driver := newMockDriver(6*ChunkSize + 77)
	image := openMock(t, driver, Options{CacheChunks: 4})

	var group errgroup.Group
	for w := 0; w < 16; w++ {
		offset := int64((w * 9173) % (5 * ChunkSize))
		length := 1 + (w*4099)%(2*ChunkSize)
		group.Go(func() error {
			for iter := 0; iter < 20; iter++ {
				buf := make([]byte, length)
				n, err := image.ReadAt(buf, offset)
				if err != nil {
					return err
				}
				if n != length {
					return NewError(ErrDriverIO, "short read %d of %d", n, length)
				}
				if !bytes.Equal(driver.data[offset:offset+int64(length)], buf) {
					return NewError(ErrDriverIO, "data mismatch at %d", offset)
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
}

func TestCacheStaysBounded(t *testing.T) {
	driver := newMockDriver(8 * ChunkSize)
	image := openMock(t, driver, Options{CacheChunks: 2})

	buf := make([]byte, ChunkSize)
	for chunk := int64(0); chunk < 8; chunk++ {
		_, err := image.ReadAt(buf, chunk*ChunkSize)
		require.NoError(t, err)
		assert.LessOrEqual(t, image.chunks.Len(), 2)
	}
	assert.Equal(t, 8, driver.calls())
}

func TestCloseIsIdempotent(t *testing.T) {
	driver := newMockDriver(ChunkSize)
	image, err := OpenWithDriver(driver, []string{"mock"}, Options{})
	require.NoError(t, err)

	require.NoError(t, image.Close())
	require.NoError(t, image.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&driver.closes))

	_, err = image.ReadAt(make([]byte, 8), 0)
	assert.ErrorIs(t, err, &Error{Kind: ErrArgument})
}

func TestOpenDiscoversSplitSegments(t *testing.T) {
	dir := t.TempDir()
	partOne := bytes.Repeat([]byte{0xAA}, 700)
	partTwo := bytes.Repeat([]byte{0xBB}, 300)
	first := filepath.Join(dir, "split.001")
	require.NoError(t, os.WriteFile(first, partOne, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "split.002"), partTwo, 0644))

	image, err := Open([]string{first}, Options{})
	require.NoError(t, err)
	defer image.Close()

	assert.Len(t, image.Segments(), 2)
	assert.Equal(t, int64(1000), image.GetSize())

	// a read spanning the segment boundary
	buf := make([]byte, 200)
	n, err := image.ReadAt(buf, 600)
	require.NoError(t, err)
	require.Equal(t, 200, n)
	assert.True(t, bytes.Equal(append(bytes.Repeat([]byte{0xAA}, 100), bytes.Repeat([]byte{0xBB}, 100)...), buf))
}

func TestOpenRejectsEmptyPaths(t *testing.T) {
	_, err := Open(nil, Options{})
	assert.ErrorIs(t, err, &Error{Kind: ErrArgument})
}
