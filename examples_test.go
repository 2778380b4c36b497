package poolkv_test

import (
	"errors"
	"fmt"
	"os"

	"github.com/aalhour/poolkv"
)

func ExampleOpen() {
	dir, err := os.MkdirTemp("", "poolkv-example-*")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	cfg := poolkv.NewConfig()
	if err := cfg.PutPath(dir); err != nil {
		panic(err)
	}
	if err := cfg.PutCreateIfMissing(true); err != nil {
		panic(err)
	}

	eng, err := poolkv.Open("stree", cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = eng.Close() }()

	if err := eng.Put([]byte("k"), []byte("v")); err != nil {
		panic(err)
	}

	val, err := eng.GetCopy([]byte("k"))
	if err != nil {
		panic(err)
	}

	fmt.Println(string(val))
	// Output:
	// v
}

func ExampleCodeOf() {
	eng, err := poolkv.Open("vsmap", nil)
	if err != nil {
		panic(err)
	}
	defer func() { _ = eng.Close() }()

	err = eng.Exists([]byte("missing"))
	fmt.Println(poolkv.CodeOf(err), errors.Is(err, poolkv.ErrNotFound))

	_, err = poolkv.Open("nosuch", nil)
	fmt.Println(poolkv.CodeOf(err))
	// Output:
	// NOT_FOUND true
	// WRONG_ENGINE_NAME
}

func ExampleEngine_GetBetween() {
	eng, err := poolkv.Open("vsmap", nil)
	if err != nil {
		panic(err)
	}
	defer func() { _ = eng.Close() }()

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := eng.Put([]byte(k), []byte("value-"+k)); err != nil {
			panic(err)
		}
	}

	err = eng.GetBetween([]byte("a"), []byte("d"), func(k, v []byte) bool {
		fmt.Printf("%s=%s\n", k, v)
		return true
	})
	if err != nil {
		panic(err)
	}
	// Output:
	// b=value-b
	// c=value-c
}

func ExampleConfigFromJSON() {
	cfg, err := poolkv.ConfigFromJSON([]byte(`{"size": 1048576}`))
	if err != nil {
		panic(err)
	}
	eng, err := poolkv.Open("vsmap", cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = eng.Close() }()

	st, err := eng.Stats()
	if err != nil {
		panic(err)
	}
	fmt.Println(st.Engine, st.Capacity)
	// Output:
	// vsmap 1048576
}
