package bencher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/allocbench/process"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12345", 12345},
		{"12345.", 12345},
		{"12345.0", 12345},
		{"10.002s.", 10.002},
		{"3.5,", 3.5},
		{"=42", 42},
		{"-1.5", -1.5},
	}

	for _, tt := range tests {
		got, err := Number(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Number("lots")
	assert.Error(t, err)
}

func TestTokenFromEnd(t *testing.T) {
	out := "banner line\nmore banner\na b c d"

	tok, err := TokenFromEnd(out, 1)
	require.NoError(t, err)
	assert.Equal(t, "d", tok)

	tok, err = TokenFromEnd(out, 4)
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	_, err = TokenFromEnd(out, 0)
	assert.Error(t, err)

	_, err = TokenFromEnd(out, 100)
	assert.Error(t, err)
}

func TestValueAfterThroughput(t *testing.T) {
	v, err := ValueAfter("... throughput: 12345.0 ops/sec", "throughput:")
	require.NoError(t, err)
	assert.Equal(t, 12345.0, v)

	_, err = ValueAfter("nothing here", "throughput:")
	assert.Error(t, err)

	_, err = ValueAfter("throughput:", "throughput:")
	assert.Error(t, err)
}

func TestValueBefore(t *testing.T) {
	v, err := ValueBefore("SET: 10.5 requests per second\nGET: 20.25 requests per second\n", "requests per second")
	require.NoError(t, err)
	assert.Equal(t, 20.25, v)

	_, err = ValueBefore("requests per second", "requests per second")
	assert.Error(t, err)
}

func TestCatalogueParsers(t *testing.T) {
	base := func() map[string]float64 {
		return map[string]float64{MemPeak: 1, TimeElapsed: 9, PageFault: 1}
	}

	t.Run("rptest", func(t *testing.T) {
		// Throughput sits 13 tokens from the end, with a trailing period.
		out := "Random banner of any length\n" +
			"Total 8765432. ops per second over 12 threads in 1.234 s, avg 3 ms"
		values := base()
		require.NoError(t, parseRPTest(&process.Output{Stdout: out}, values))
		assert.Equal(t, 8765432.0, values[OpPerSec])
	})

	t.Run("larson", func(t *testing.T) {
		out := "Driver using 4 threads\nThroughput =  1234567 operations per second, relative time: 10.002s.\n"
		values := base()
		require.NoError(t, parseLarson(4)(&process.Output{Stdout: out}, values))
		assert.Equal(t, 1234567.0, values[OpPerSec])
		assert.Equal(t, 10.002, values[RTime])
		assert.Equal(t, 10.002, values[TimeElapsed])
		assert.Equal(t, 4.0, values[ThreadCount])
	})

	t.Run("self timed overrides wrapper", func(t *testing.T) {
		values := base()
		require.NoError(t, parseSelfTimed(&process.Output{Stdout: "rtime 1.75 seconds\n"}, values))
		assert.Equal(t, 1.75, values[RTime])
		assert.Equal(t, 1.75, values[TimeElapsed])
	})

	t.Run("redis", func(t *testing.T) {
		out := "LPUSH: 512820.53 requests per second, p50=0.711 msec\n" +
			"LRANGE_10: 98765.43 requests per second, p50=1.1 msec\n"
		values := base()
		require.NoError(t, parseRedis(&process.Output{Stdout: out}, values))
		assert.Equal(t, 98765.43, values[ReqPerSec])
	})
}

func TestCatalogueNamesUnique(t *testing.T) {
	seen := make(map[string]bool)

	for _, spec := range Catalogue(DefaultOptions()) {
		assert.False(t, seen[spec.ID], "duplicate %s", spec.ID)
		seen[spec.ID] = true

		if len(spec.Extra) > 0 {
			assert.NotNil(t, spec.Parse, "%s declares extra attributes without a parser", spec.ID)
		}
	}

	assert.True(t, seen["redis"])
	assert.True(t, seen["cfrac"])
}

func TestCatalogueTools(t *testing.T) {
	tools := make(map[string][]Tool)
	for _, spec := range Catalogue(DefaultOptions()) {
		tools[spec.ID] = spec.Tools()
	}

	assert.Empty(t, tools["cfrac"])

	require.Len(t, tools["z3"], 1)
	assert.Equal(t, []string{"z3", "--version"}, tools["z3"][0].Version)
	assert.Equal(t, "z3", tools["z3"][0].Launch[0])

	require.Len(t, tools["redis"], 1)
	assert.Equal(t, []string{"redis-server", "--save", "", "--appendonly", "no"}, tools["redis"][0].Launch)
	assert.Equal(t, []string{"redis-server", "--version"}, tools["redis"][0].Version)
}
