// Command client is a small CLI against a node's REST endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kadhash/dht/client"
)

func main() {
	addresses := flag.String("addrs", "http://127.0.0.1:6667", "comma-separated list of node REST addresses")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client [-addrs=...] get <key> | put <key> <value>")
		os.Exit(2)
	}

	c := client.New(strings.Split(*addresses, ","))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "get":
		value, err := c.Get(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	case "put":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: client put <key> <value>")
			os.Exit(2)
		}
		if err := c.Put(ctx, args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}
}
