package oakdb_test

import (
	"fmt"

	"github.com/oakdb/oakdb"
	"github.com/oakdb/oakdb/storage"
)

// Example stores one row and reads it back through a secondary index.
func Example() {
	store, err := oakdb.Open(storage.NewMem(), &oakdb.Options{Logger: oakdb.DiscardLogs})
	if err != nil {
		panic(err)
	}
	db, err := store.NewWriter()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	tableRoot, _ := db.Access().AllocPage()
	indexRoot, _ := db.Access().AllocPage()

	info := oakdb.NewColInfo("people", []oakdb.Col{
		{Name: "Name", Type: oakdb.TypeString},
		{Name: "Age", Type: oakdb.TypeBigInt},
	})
	people := db.NewTable(1, tableRoot, 1, info)
	people.AddIndex(indexRoot, []int{0})

	row := people.NewRow()
	row.ID = people.AllocID()
	row.Values[0] = oakdb.StrVal("ada")
	row.Values[1] = oakdb.IntVal(36)
	if err := people.Insert(row); err != nil {
		panic(err)
	}
	if err := db.Save(); err != nil {
		panic(err)
	}

	found, ok, err := people.IxGet([]oakdb.Value{oakdb.StrVal("ada")}, 0)
	if err != nil || !ok {
		panic(err)
	}
	fmt.Println(found.Values[1].Int)
	// Output: 36
}
