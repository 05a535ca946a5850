package shapecache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/resource"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBytes(t *testing.T) []byte {
	t.Helper()
	data, err := shape.SampleBuilder().Build()
	require.NoError(t, err)
	return data
}

func TestSummarize(t *testing.T) {
	data := sampleBytes(t)
	sum := Summarize("SAMPLE.SH", data)
	assert.True(t, sum.OK(), sum.Err)
	assert.Equal(t, common.ComputeHash(data), sum.Hash)
	assert.Equal(t, 12, sum.Records)
	assert.Equal(t, 3, sum.Tags["Facet"])
	assert.Equal(t, []string{shape.SampleTexture}, sum.Textures)
	assert.Equal(t, []string{shape.StartInterp, "@HardpointAngle@4", "_PLgearPos"}, sum.Imports)
	assert.Equal(t, 1, sum.X86Blocks)
	assert.Equal(t, 7, sum.X86Instructions)
	assert.Equal(t, 0, sum.X86Failures)
	assert.Equal(t, 0, sum.RefMismatches)

	bad := Summarize("BAD.SH", []byte("not a PE"))
	assert.False(t, bad.OK())
	assert.Equal(t, 0, bad.Records)
}

func TestCache_BasicOperations(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	sum := Summarize("SAMPLE.SH", sampleBytes(t))
	_, found, err := c.Get(sum.Hash)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Put(sum))
	got, found, err := c.Get(sum.Hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sum.Hash, got.Hash)
	assert.Equal(t, sum.Tags, got.Tags)
	assert.Equal(t, sum.Imports, got.Imports)

	all, err := c.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, c.Delete(sum.Hash))
	_, found, err = c.Get(sum.Hash)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_StaleVersionIsMiss(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	sum := &Summary{Name: "OLD.SH", Hash: common.ComputeHash([]byte("old"))}
	require.NoError(t, c.Put(sum))
	// Rewrite the entry as if an older build had stored it.
	require.NoError(t, c.db.Put(summaryKey(sum.Hash), []byte(`{"version":0,"name":"OLD.SH"}`), nil))

	_, found, err := c.Get(sum.Hash)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	c, err := Open(path)
	require.NoError(t, err)
	sum := Summarize("SAMPLE.SH", sampleBytes(t))
	require.NoError(t, c.Put(sum))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	_, found, err := c.Get(sum.Hash)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestScan(t *testing.T) {
	lib := resource.NewMemLibrary()
	data := sampleBytes(t)
	lib.Add("B.SH", data)
	lib.Add("A.SH", data)
	lib.Add("BROKEN.SH", []byte{0xFF})
	names, err := lib.Find("*.SH")
	require.NoError(t, err)
	names = append(names, "MISSING.SH")

	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	sums, stats, err := Scan(context.Background(), lib, names, c, 3)
	require.NoError(t, err)
	require.Len(t, sums, 4)
	assert.Equal(t, []string{"A.SH", "B.SH", "BROKEN.SH", "MISSING.SH"},
		[]string{sums[0].Name, sums[1].Name, sums[2].Name, sums[3].Name})
	assert.Equal(t, 4, stats.Files)
	assert.Equal(t, 2, stats.Failed)
	assert.True(t, sums[0].OK())
	assert.Equal(t, 6, Totals(sums)["Facet"])

	// Second pass is served from the cache, except for the missing file.
	sums, stats, err = Scan(context.Background(), lib, names, c, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Hits)
	assert.Equal(t, "A.SH", sums[0].Name)
}

func TestScanCancelled(t *testing.T) {
	lib := resource.NewMemLibrary()
	lib.Add("A.SH", sampleBytes(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Scan(ctx, lib, []string{"A.SH", "A.SH", "A.SH"}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
