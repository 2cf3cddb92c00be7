package featsort_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofeature/featsort"
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

const spillDir = "/featsort-spill"

// countingStream records how the engine used its input.
type countingStream struct {
	*feature.SliceStream
	nexts  int
	closed int
	failAt int
	err    error
}

func (c *countingStream) Next() (*feature.Record, error) {
	c.nexts++
	if c.err != nil && c.nexts > c.failAt {
		return nil, c.err
	}
	return c.SliceStream.Next()
}

func (c *countingStream) Close() error {
	c.closed++
	return c.SliceStream.Close()
}

func newInput(schema *feature.Schema, records []*feature.Record) *countingStream {
	return &countingStream{SliceStream: feature.NewSliceStream(schema, records)}
}

func placeSchema(t testing.TB) *feature.Schema {
	t.Helper()
	s, err := feature.NewSchema("place",
		feature.Attribute{Name: "pop", Type: feature.TypeInt32},
		feature.Attribute{Name: "name", Type: feature.TypeString, Length: 40})
	require.NoError(t, err)
	return s
}

func places(s *feature.Schema) []*feature.Record {
	return []*feature.Record{
		feature.New(s, "3", int32(30), "c"),
		feature.New(s, "1", int32(10), "a"),
		feature.New(s, "2", int32(20), "b"),
		feature.New(s, "4", int32(40), "d"),
		feature.New(s, "5", int32(5), "e"),
	}
}

func memConfig(maxInMemory int) (*featsort.Config, afero.Fs) {
	fs := afero.NewMemMapFs()
	return &featsort.Config{MaxInMemory: maxInMemory, TempFilesDir: spillDir, Fs: fs}, fs
}

func spillFiles(t testing.TB, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, spillDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func ids(records []*feature.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSortSpillsAndMerges(t *testing.T) {
	s := placeSchema(t)
	config, fs := memConfig(2)

	out, err := featsort.Sort(context.Background(), newInput(s, places(s)),
		[]ordering.SortBy{{Property: "pop"}}, config)
	require.NoError(t, err)
	m, ok := out.(*featsort.MergeStream)
	require.True(t, ok, "expected a merge stream, got %T", out)
	assert.Equal(t, 3, m.Runs())
	assert.Len(t, spillFiles(t, fs), 1)

	got, err := feature.Collect(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "1", "2", "3", "4"}, ids(got))
	for i, want := range []int32{5, 10, 20, 30, 40} {
		assert.Equal(t, want, got[i].Values[0])
	}
	assert.Empty(t, spillFiles(t, fs))
}

func TestSortThreshold(t *testing.T) {
	s := placeSchema(t)
	const n = 4
	var records []*feature.Record
	for i := 0; i <= n; i++ {
		records = append(records, feature.New(s, fmt.Sprint(i), int32(n-i), "x"))
	}

	t.Run("at threshold", func(t *testing.T) {
		config, fs := memConfig(n)
		out, err := featsort.Sort(context.Background(), newInput(s, records[:n]),
			[]ordering.SortBy{ordering.ReverseOrder}, config)
		require.NoError(t, err)
		assert.IsType(t, &feature.SliceStream{}, out)
		exists, err := afero.DirExists(fs, spillDir)
		require.NoError(t, err)
		assert.False(t, exists, "no spill file is created in memory")

		got, err := feature.Collect(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "2", "1", "0"}, ids(got))
	})

	t.Run("over threshold", func(t *testing.T) {
		config, fs := memConfig(n)
		out, err := featsort.Sort(context.Background(), newInput(s, records),
			[]ordering.SortBy{ordering.ReverseOrder}, config)
		require.NoError(t, err)
		require.IsType(t, &featsort.MergeStream{}, out)
		assert.Equal(t, 2, out.(*featsort.MergeStream).Runs())

		got, err := feature.Collect(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"4", "3", "2", "1", "0"}, ids(got))
		assert.Empty(t, spillFiles(t, fs))
	})
}

func citySchema(t testing.TB) *feature.Schema {
	t.Helper()
	s, err := feature.NewSchema("city",
		feature.Attribute{Name: "pop", Type: feature.TypeInt32, Nillable: true},
		feature.Attribute{Name: "name", Type: feature.TypeString, Nillable: true},
		feature.Attribute{Name: "founded", Type: feature.TypeDate, Nillable: true},
		feature.Attribute{Name: "area", Type: feature.TypeFloat64},
		feature.Attribute{Name: "capital", Type: feature.TypeBool},
		feature.Attribute{Name: "location", Type: feature.TypeGeometry, Nillable: true})
	require.NoError(t, err)
	return s
}

func randomCities(rng *rand.Rand, s *feature.Schema, n int) []*feature.Record {
	names := []string{"Oslo", "Lima", "Pune", "Bern", "Kyiv", "Graz"}
	maybe := func(v any) any {
		if rng.Intn(5) == 0 {
			return nil
		}
		return v
	}
	out := make([]*feature.Record, n)
	for i, p := range rng.Perm(n) {
		out[i] = feature.New(s, fmt.Sprintf("city.%d", p),
			maybe(int32(rng.Intn(20))),
			maybe(names[rng.Intn(len(names))]),
			maybe(time.UnixMilli(rng.Int63n(1e12)).UTC()),
			float64(rng.Intn(4)),
			rng.Intn(2) == 0,
			maybe(orb.Point{rng.Float64(), rng.Float64()}))
	}
	return out
}

func TestSortOrderAndPermutation(t *testing.T) {
	s := citySchema(t)
	orders := [][]ordering.SortBy{
		{{Property: "pop"}},
		{{Property: "name", Direction: ordering.Descending}, {Property: "pop"}, ordering.NaturalOrder},
		{{Property: "capital"}, {Property: "founded", Direction: ordering.Descending}},
		{{Property: "area"}, {Property: "name"}},
		{ordering.ReverseOrder},
	}
	rng := rand.New(rand.NewSource(42))

	for _, maxInMemory := range []int{1, 3, 16, 1000} {
		for _, size := range []int{0, 1, 2, 17, 300} {
			for _, sortBy := range orders {
				name := fmt.Sprintf("max=%d/n=%d/%v", maxInMemory, size, sortBy)
				t.Run(name, func(t *testing.T) {
					input := randomCities(rng, s, size)
					config, fs := memConfig(maxInMemory)
					out, err := featsort.Sort(context.Background(), newInput(s, input), sortBy, config)
					require.NoError(t, err)
					got, err := feature.Collect(out)
					require.NoError(t, err)

					cmp, err := ordering.Build(s, sortBy)
					require.NoError(t, err)
					for i := 1; i < len(got); i++ {
						require.LessOrEqual(t, cmp.Compare(got[i-1], got[i]), 0, "records %d and %d out of order", i-1, i)
					}

					byID := make(map[string]*feature.Record, len(input))
					for _, rec := range input {
						byID[rec.ID] = rec
					}
					require.Len(t, got, len(input))
					for _, rec := range got {
						want, ok := byID[rec.ID]
						require.True(t, ok, "unexpected or duplicated record %s", rec.ID)
						assert.True(t, want.Equal(rec), "want %v got %v", want, rec)
						delete(byID, rec.ID)
					}
					assert.Empty(t, spillFiles(t, fs))
				})
			}
		}
	}
}

func TestSortNullsAndDirection(t *testing.T) {
	s := citySchema(t)
	records := []*feature.Record{
		feature.New(s, "a", int32(2), nil, nil, 0.0, false, nil),
		feature.New(s, "b", nil, nil, nil, 0.0, false, nil),
		feature.New(s, "c", int32(1), nil, nil, 0.0, false, nil),
	}
	for _, maxInMemory := range []int{1, 10} {
		config, _ := memConfig(maxInMemory)
		out, err := featsort.Sort(context.Background(), newInput(s, records), []ordering.SortBy{{Property: "pop"}}, config)
		require.NoError(t, err)
		got, err := feature.Collect(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, ids(got))

		config, _ = memConfig(maxInMemory)
		out, err = featsort.Sort(context.Background(), newInput(s, records),
			[]ordering.SortBy{{Property: "pop", Direction: ordering.Descending}}, config)
		require.NoError(t, err)
		got, err = feature.Collect(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "b"}, ids(got))
	}
}

type version struct {
	Major, Minor int
}

func (v version) CompareTo(other any) int {
	o := other.(version)
	if v.Major != o.Major {
		return v.Major - o.Major
	}
	return v.Minor - o.Minor
}

func TestSortComparableOpaque(t *testing.T) {
	s, err := feature.NewSchema("release",
		feature.Attribute{Name: "version", Type: feature.TypeOpaque, Binding: reflect.TypeOf(version{})})
	require.NoError(t, err)
	records := []*feature.Record{
		feature.New(s, "r3", version{2, 0}),
		feature.New(s, "r1", version{1, 2}),
		feature.New(s, "r2", version{1, 10}),
	}
	config, _ := memConfig(1)
	out, err := featsort.Sort(context.Background(), newInput(s, records), []ordering.SortBy{{Property: "version"}}, config)
	require.NoError(t, err)
	got, err := feature.Collect(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(got))
	assert.Equal(t, version{1, 10}, got[1].Values[0])
}

func TestSortNotSortable(t *testing.T) {
	geo, err := feature.NewSchema("geo",
		feature.Attribute{Name: "name", Type: feature.TypeString},
		feature.Attribute{Name: "geom", Type: feature.TypeGeometry},
		feature.Attribute{Name: "blob", Type: feature.TypeOpaque, Binding: reflect.TypeOf(map[string]int{})})
	require.NoError(t, err)
	callbacks, err := feature.NewSchema("callbacks",
		feature.Attribute{Name: "name", Type: feature.TypeString},
		feature.Attribute{Name: "fn", Type: feature.TypeOpaque, Binding: reflect.TypeOf(func() {})})
	require.NoError(t, err)
	loose, err := feature.NewSchema("loose",
		feature.Attribute{Name: "name", Type: feature.TypeString},
		feature.Attribute{Name: "props", Type: feature.TypeOpaque, Binding: reflect.TypeOf(map[string]any{})})
	require.NoError(t, err)

	tests := []struct {
		name      string
		schema    *feature.Schema
		sortBy    []ordering.SortBy
		attribute string
	}{
		{"geometry key", geo, []ordering.SortBy{{Property: "name"}, {Property: "geom"}}, "geom"},
		{"opaque key without order", geo, []ordering.SortBy{{Property: "blob"}}, "blob"},
		{"missing key", geo, []ordering.SortBy{{Property: "height"}}, "height"},
		{"unserializable attribute", callbacks, []ordering.SortBy{ordering.NaturalOrder}, "fn"},
		{"interface values in opaque attribute", loose, []ordering.SortBy{ordering.NaturalOrder}, "props"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []*feature.Record
			if tt.schema == geo {
				records = []*feature.Record{feature.New(geo, "g", "x", orb.Point{1, 2}, map[string]int{"a": 1})}
			}
			input := newInput(tt.schema, records)
			config, fs := memConfig(1)

			out, err := featsort.Sort(context.Background(), input, tt.sortBy, config)
			assert.Nil(t, out)
			var nse *featsort.NotSortableError
			require.ErrorAs(t, err, &nse)
			assert.Equal(t, tt.attribute, nse.Attribute)
			assert.Equal(t, 0, input.nexts, "input must not be read")
			assert.Equal(t, 0, input.closed, "input must stay usable")
			assert.Empty(t, spillFiles(t, fs))

			assert.Equal(t, err.Error(), featsort.CanSort(tt.schema, tt.sortBy).Error())
		})
	}
}

func TestSortUnsortedPassthrough(t *testing.T) {
	s := placeSchema(t)
	input := newInput(s, places(s))
	out, err := featsort.Sort(context.Background(), input, nil, &featsort.Config{MaxInMemory: -1})
	require.NoError(t, err)
	assert.Same(t, input, out)
	assert.Zero(t, input.nexts)
}

func TestSortClosesInput(t *testing.T) {
	s := placeSchema(t)
	for _, maxInMemory := range []int{1, 100} {
		input := newInput(s, places(s))
		config, _ := memConfig(maxInMemory)
		out, err := featsort.Sort(context.Background(), input, []ordering.SortBy{ordering.NaturalOrder}, config)
		require.NoError(t, err)
		assert.Equal(t, 1, input.closed)
		require.NoError(t, out.Close())
	}
}

func TestSortCloseMidMerge(t *testing.T) {
	s := placeSchema(t)
	config, fs := memConfig(2)
	out, err := featsort.Sort(context.Background(), newInput(s, places(s)), []ordering.SortBy{{Property: "name"}}, config)
	require.NoError(t, err)

	rec, err := out.Next()
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
	require.Len(t, spillFiles(t, fs), 1)

	require.NoError(t, out.Close())
	assert.Empty(t, spillFiles(t, fs))
	_, err = out.Next()
	assert.ErrorIs(t, err, featsort.ErrClosed)
	assert.NoError(t, out.Close())
}

func TestSortOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := citySchema(t)
	input := randomCities(rand.New(rand.NewSource(1)), s, 250)
	config := &featsort.Config{MaxInMemory: 32, RunBufferSize: 5, TempFilesDir: dir}

	out, err := featsort.Sort(context.Background(), newInput(s, input), []ordering.SortBy{ordering.NaturalOrder}, config)
	require.NoError(t, err)
	m := out.(*featsort.MergeStream)
	assert.Equal(t, 8, m.Runs())
	assert.Equal(t, dir, filepath.Dir(m.Path()))
	_, err = os.Stat(m.Path())
	require.NoError(t, err)

	got, err := feature.Collect(out)
	require.NoError(t, err)
	assert.Len(t, got, 250)
	_, err = os.Stat(m.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestSortInputFailure(t *testing.T) {
	s := placeSchema(t)
	boom := errors.New("feature source went away")
	input := newInput(s, append(places(s), places(s)...))
	input.failAt, input.err = 5, boom
	config, fs := memConfig(2)

	out, err := featsort.Sort(context.Background(), input, []ordering.SortBy{{Property: "pop"}}, config)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, input.closed)
	assert.Empty(t, spillFiles(t, fs))
}

func TestSortContextCancelled(t *testing.T) {
	s := placeSchema(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	input := newInput(s, places(s))
	config, _ := memConfig(2)
	_, err := featsort.Sort(ctx, input, []ordering.SortBy{{Property: "pop"}}, config)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, input.closed)
}

func TestSortComparatorPanic(t *testing.T) {
	s := placeSchema(t)
	bad := ordering.Func(func(a, b *feature.Record) int {
		panic("no order today")
	})
	for _, maxInMemory := range []int{1, 10} {
		config, fs := memConfig(maxInMemory)
		_, err := featsort.SortFunc(context.Background(), newInput(s, places(s)), bad, config)
		var ce *featsort.ComparisonError
		require.ErrorAs(t, err, &ce, "maxInMemory=%d", maxInMemory)
		assert.Equal(t, "no order today", ce.Cause)
		assert.Empty(t, spillFiles(t, fs))
	}
}

func TestSortCorruptSpillFile(t *testing.T) {
	s := placeSchema(t)
	config, fs := memConfig(2)
	config.RunBufferSize = 1
	out, err := featsort.Sort(context.Background(), newInput(s, places(s)), []ordering.SortBy{{Property: "pop"}}, config)
	require.NoError(t, err)
	m, ok := out.(*featsort.MergeStream)
	require.True(t, ok, "expected a merge stream, got %T", out)
	require.NoError(t, afero.WriteFile(fs, m.Path(), nil, 0o600))

	var read int
	for {
		if _, err = out.Next(); err != nil {
			break
		}
		read++
	}
	require.NotErrorIs(t, err, io.EOF)
	var ce *featsort.CorruptRecordError
	require.ErrorAs(t, err, &ce)
	assert.Less(t, read, 5)
	assert.Empty(t, spillFiles(t, fs))

	_, again := out.Next()
	assert.Equal(t, err, again)
	assert.NoError(t, out.Close())
}

func TestSortTemporalValuesMatchAcrossPaths(t *testing.T) {
	s, err := feature.NewSchema("event",
		feature.Attribute{Name: "at", Type: feature.TypeTimestamp},
		feature.Attribute{Name: "seq", Type: feature.TypeInt32})
	require.NoError(t, err)
	base := time.Date(2021, 3, 14, 15, 9, 26, 535897932, time.FixedZone("NPT", 5*3600+45*60))
	sortBy := []ordering.SortBy{{Property: "at"}, {Property: "seq"}}

	var results [][]*feature.Record
	for _, maxInMemory := range []int{10, 1} {
		records := []*feature.Record{
			feature.New(s, "c", base.Add(2*time.Millisecond), int32(3)),
			feature.New(s, "b", base.Add(900*time.Microsecond), int32(2)),
			feature.New(s, "a", base.Add(300*time.Microsecond), int32(1)),
		}
		config, _ := memConfig(maxInMemory)
		out, err := featsort.Sort(context.Background(), newInput(s, records), sortBy, config)
		require.NoError(t, err)
		got, err := feature.Collect(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got), "maxInMemory=%d", maxInMemory)
		assert.Equal(t, base.Add(300*time.Microsecond), records[2].Values[0], "input records are not modified")
		results = append(results, got)
	}

	inMemory, spilled := results[0], results[1]
	for i := range inMemory {
		assert.Equal(t, spilled[i].Values, inMemory[i].Values)
		at := inMemory[i].Values[0].(time.Time)
		assert.Zero(t, at.Nanosecond()%int(time.Millisecond))
		assert.Equal(t, time.UTC, at.Location())
	}
}

func TestSortRefusesRingGeometry(t *testing.T) {
	s, err := feature.NewSchema("shape",
		feature.Attribute{Name: "geom", Type: feature.TypeGeometry},
		feature.Attribute{Name: "n", Type: feature.TypeInt32})
	require.NoError(t, err)

	for _, maxInMemory := range []int{10, 1} {
		input := newInput(s, []*feature.Record{
			feature.New(s, "p", orb.Point{1, 1}, int32(2)),
			feature.New(s, "r", orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, int32(1)),
		})
		config, fs := memConfig(maxInMemory)
		out, err := featsort.Sort(context.Background(), input, []ordering.SortBy{{Property: "n"}}, config)
		assert.Nil(t, out)
		var se *featsort.SerializationError
		require.ErrorAs(t, err, &se, "maxInMemory=%d", maxInMemory)
		assert.Equal(t, "geom", se.Attribute)
		assert.Equal(t, 1, input.closed)
		assert.Empty(t, spillFiles(t, fs))
	}
}

func TestSortInvalidConfig(t *testing.T) {
	s := placeSchema(t)
	_, err := featsort.Sort(context.Background(), newInput(s, places(s)),
		[]ordering.SortBy{ordering.NaturalOrder}, &featsort.Config{MaxInMemory: -3})
	var ce *featsort.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "MaxInMemory", ce.Field)
}

func TestMergeStreamEOFIsSticky(t *testing.T) {
	s := placeSchema(t)
	config, _ := memConfig(1)
	out, err := featsort.Sort(context.Background(), newInput(s, places(s)[:2]), []ordering.SortBy{ordering.NaturalOrder}, config)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := out.Next()
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := out.Next()
		assert.Equal(t, io.EOF, err)
	}
	assert.NoError(t, out.Close())
}
