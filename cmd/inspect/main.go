package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"chatsync/pkg/history"
	"chatsync/pkg/logger"
)

// inspect dumps raw store keys for debugging a chatsync database offline.
func main() {
	var db string
	var prefix string
	var values bool
	flag.StringVar(&db, "db", "", "pebble db path to open")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter (e.g. conv:, latest:, version:)")
	flag.BoolVar(&values, "values", false, "print latest message values for latest: keys")
	flag.Parse()
	if db == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init()
	if err := history.Open(db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open db: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = history.Close() }()

	keys, err := history.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		fmt.Fprintln(os.Stdout, k)
		if values && strings.HasPrefix(k, "latest:msg:") {
			m, err := history.GetLatest(strings.TrimPrefix(k, "latest:msg:"))
			if err != nil {
				fmt.Fprintf(os.Stdout, "  <unreadable: %v>\n", err)
				continue
			}
			fmt.Fprintf(os.Stdout, "  conv=%s sender=%s deleted=%v content=%q\n", m.Conversation, m.Sender, m.Deleted, m.Content)
		}
	}
	fmt.Fprintf(os.Stdout, "%d keys\n", len(keys))
}
