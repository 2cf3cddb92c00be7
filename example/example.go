// Command example sorts a large stream of random places by population,
// spilling runs to a temporary file, and prints the first records.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"

	"go.uber.org/zap"

	"github.com/gofeature/featsort"
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

var count = int(1e6) // 1M

// randomPlaces generates n places lazily so the input never sits in memory.
type randomPlaces struct {
	schema *feature.Schema
	rng    *rand.Rand
	n, i   int
}

func (r *randomPlaces) Schema() *feature.Schema { return r.schema }

func (r *randomPlaces) Next() (*feature.Record, error) {
	if r.i == r.n {
		return nil, io.EOF
	}
	r.i++
	return feature.New(r.schema, fmt.Sprintf("place.%d", r.i), r.rng.Int31n(10_000_000), fmt.Sprintf("%x", r.rng.Int63())), nil
}

func (r *randomPlaces) Close() error { return nil }

func main() {
	schema, err := feature.NewSchema("place",
		feature.Attribute{Name: "pop", Type: feature.TypeInt32},
		feature.Attribute{Name: "name", Type: feature.TypeString, Length: 16})
	if err != nil {
		panic(err)
	}
	input := &randomPlaces{schema: schema, rng: rand.New(rand.NewSource(1)), n: count}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	config := featsort.DefaultConfig()
	config.MaxInMemory = 100_000
	config.Logger = logger

	sorted, err := featsort.Sort(context.Background(), input,
		[]ordering.SortBy{{Property: "pop", Direction: ordering.Descending}, ordering.NaturalOrder}, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "err: %s\n", err)
		os.Exit(1)
	}
	defer sorted.Close()

	// print output sorted data
	for i := 0; i < 10; i++ {
		rec, err := sorted.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "err: %s\n", err)
			return
		}
		fmt.Printf("%s\t%d\t%s\n", rec.ID, rec.Values[0], rec.Values[1])
	}
}
