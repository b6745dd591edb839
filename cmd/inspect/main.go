// inspect dumps records from a chatkit database for debugging. It opens
// the store directly, so run it only against a stopped instance or a copy.
package main

import (
	"flag"
	"fmt"
	"os"

	"chatkit/pkg/logger"
	"chatkit/pkg/store"
)

func main() {
	var (
		dbPath = flag.String("db", "./.database", "path to the chatkit database")
		prefix = flag.String("prefix", "thread:", "key prefix to dump (thread:, intidx:, payment:, contact:, thridx:)")
		keys   = flag.Bool("keys", false, "print keys only")
	)
	flag.Parse()

	logger.Init()
	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	n := 0
	err := store.Range(*prefix, func(key string, val []byte) (bool, error) {
		if *keys {
			fmt.Println(key)
		} else {
			fmt.Printf("%s\t%s\n", key, val)
		}
		n++
		return true, nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "range failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d records\n", n)
}
