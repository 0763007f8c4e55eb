package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/allocbench/bencher"
	"github.com/weiihann/allocbench/builder"
)

func TestTableOrderAndReplace(t *testing.T) {
	tbl := NewTable[int]("number")
	tbl.Add("b", 1)
	tbl.Add("a", 2)
	tbl.Add("b", 3)

	assert.Equal(t, []string{"b", "a"}, tbl.Names())
	assert.Equal(t, 2, tbl.Len())

	v, err := tbl.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = tbl.Get("zzz")
	require.ErrorIs(t, err, ErrUnknown)
	assert.Contains(t, err.Error(), `number "zzz"`)

	var seen []string
	tbl.Each(func(name string, _ int) { seen = append(seen, name) })
	assert.Equal(t, []string{"b", "a"}, seen)
}

func TestDefaultCatalogues(t *testing.T) {
	root := t.TempDir()
	reg := Default(Paths{SourceRoot: root, Parallel: 2, Bench: bencher.DefaultOptions()})

	for _, name := range []string{"snmalloc", "snmalloc-1mib", "mimalloc", "mimalloc-secure", "jemalloc", "system"} {
		_, err := reg.Builders.Get(name)
		assert.NoError(t, err, name)
	}

	for _, name := range []string{"cfrac", "rptest", "redis", "sh6bench"} {
		_, err := reg.Workloads.Get(name)
		assert.NoError(t, err, name)
	}

	b, err := reg.Builders.Get("mimalloc-secure")
	require.NoError(t, err)

	c, ok := b.(*builder.CMake)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "mimalloc", "bench_build_mimalloc-secure", "libmimalloc-secure.so"), c.Library())
	assert.Contains(t, c.Options, "-DMI_SECURE=4")
	assert.Equal(t, 2, c.Parallel)
}

func TestExtend(t *testing.T) {
	root := t.TempDir()
	reg := New()

	err := reg.Extend(Paths{SourceRoot: root}, []CMakeEntry{{
		Name:      "allocA",
		Workdir:   "alloc-a",
		Target:    "shim",
		Lib:       "libshim.so",
		Generator: "Ninja",
	}})
	require.NoError(t, err)

	b, err := reg.Builders.Get("allocA")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alloc-a", "bench_build_allocA", "libshim.so"), b.Library())

	err = reg.Extend(Paths{SourceRoot: root}, []CMakeEntry{{Name: "broken"}})
	require.Error(t, err)
}
