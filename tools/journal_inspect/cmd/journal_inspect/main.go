package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	journalinspect "landkeeper/engine/tools/journal_inspect"
)

func main() {
	path := flag.String("path", "", "path to a journal bundle directory or its manifest.json")
	tick := flag.Int64("tick", -1, "rebuild the broadcast view at this tick (-1 for latest)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	report, err := journalinspect.Inspect(*path, *tick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
