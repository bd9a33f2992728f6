package main

import (
	"flag"
	"fmt"
	"os"

	journalcatalog "landkeeper/engine/tools/journal_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing journal bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := journalcatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := journalcatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (land %s)\n", entry.BundleDir, entry.Manifest.LandID)
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
		fmt.Printf("  size: %d bytes\n", entry.SizeBytes)
	}
}
