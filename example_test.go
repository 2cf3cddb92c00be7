package featsort_test

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/gofeature/featsort"
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

func ExampleSort() {
	schema, err := feature.NewSchema("place",
		feature.Attribute{Name: "pop", Type: feature.TypeInt32},
		feature.Attribute{Name: "name", Type: feature.TypeString})
	if err != nil {
		panic(err)
	}
	input := feature.NewSliceStream(schema, []*feature.Record{
		feature.New(schema, "3", int32(30), "c"),
		feature.New(schema, "1", int32(10), "a"),
		feature.New(schema, "2", int32(20), "b"),
		feature.New(schema, "4", int32(40), "d"),
		feature.New(schema, "5", int32(5), "e"),
	})

	config := featsort.DefaultConfig()
	config.MaxInMemory = 2
	config.Fs = afero.NewMemMapFs()

	sorted, err := featsort.Sort(context.Background(), input, []ordering.SortBy{{Property: "pop"}}, config)
	if err != nil {
		panic(err)
	}
	defer sorted.Close()

	fmt.Println("runs:", sorted.(*featsort.MergeStream).Runs())
	records, err := feature.Collect(sorted)
	if err != nil {
		panic(err)
	}
	for _, rec := range records {
		fmt.Println(rec.ID, rec.Values[0])
	}
	// Output:
	// runs: 3
	// 5 5
	// 1 10
	// 2 20
	// 3 30
	// 4 40
}
