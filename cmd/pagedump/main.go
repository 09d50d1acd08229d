// Package main provides the pagedump CLI tool for inspecting database
// files.
//
// Usage:
//
//	pagedump --file=<path> [options]
//
// Commands:
//
//	header          Show the compact file header
//	pages           List live logical pages and their sizes
//	page            Hex dump one logical page (--lpn)
//	check           Walk every live page, verifying back-pointers
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/oakdb/oakdb/internal/compact"
	"github.com/oakdb/oakdb/internal/logging"
	"github.com/oakdb/oakdb/storage"
)

var (
	filePath = flag.String("file", "", "Path to the database file (required)")
	command  = flag.String("command", "header", "Command: header, pages, page, check")
	lpnFlag  = flag.Uint64("lpn", 0, "Logical page number for --command=page")
	limit    = flag.Int("limit", 0, "Limit number of pages listed (0 = unlimited)")
	help     = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file flag is required")
		printUsage()
		os.Exit(1)
	}

	stg, err := storage.OpenFile(*filePath)
	if err != nil {
		fatal(err)
	}
	defer stg.Close()

	f, err := compact.Open(stg, 0, 0, logging.Discard)
	if err != nil {
		fatal(err)
	}

	switch *command {
	case "header":
		dumpHeader(f)
	case "pages":
		if err := dumpPages(f); err != nil {
			fatal(err)
		}
	case "page":
		if err := dumpPage(f, *lpnFlag); err != nil {
			fatal(err)
		}
	case "check":
		if err := check(f); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", *command)
		printUsage()
		os.Exit(1)
	}
}

func dumpHeader(f *compact.File) {
	fmt.Printf("starter size:   %d\n", f.StarterSize())
	fmt.Printf("extension size: %d\n", f.ExtensionSize())
	fmt.Printf("page size max:  %d\n", f.PageMax())
	fmt.Printf("new file:       %v\n", f.IsNew())
}

// livePages walks the starter region calling fn for each page with a
// non-zero size. Free pages read as size zero and are skipped.
func livePages(f *compact.File, fn func(lpn uint64, size int) error) error {
	for lpn := uint64(0); lpn < f.StarterSlots(); lpn++ {
		size, err := f.PageSize(lpn)
		if err != nil {
			return err
		}
		if size == 0 {
			continue
		}
		if err := fn(lpn, size); err != nil {
			return err
		}
	}
	return nil
}

func dumpPages(f *compact.File) error {
	count, total := 0, 0
	err := livePages(f, func(lpn uint64, size int) error {
		if *limit == 0 || count < *limit {
			fmt.Printf("page %6d  %6d bytes  %2d extension pages\n",
				lpn, size, compact.ExtPages(f.StarterSize(), f.ExtensionSize(), size))
		}
		count++
		total += size
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d live pages, %d bytes\n", count, total)
	return nil
}

func dumpPage(f *compact.File, lpn uint64) error {
	data, err := f.GetPage(lpn)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		fmt.Printf("page %d is empty\n", lpn)
		return nil
	}
	fmt.Printf("page %d, %d bytes:\n%s", lpn, len(data), hex.Dump(data))
	return nil
}

func check(f *compact.File) error {
	count := 0
	err := livePages(f, func(lpn uint64, size int) error {
		// GetPage verifies the size field and every back-pointer.
		if _, err := f.GetPage(lpn); err != nil {
			return fmt.Errorf("page %d: %w", lpn, err)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("OK: %d pages verified\n", count)
	return nil
}

func printUsage() {
	fmt.Println(`pagedump - inspect database files

Usage:
  pagedump --file=<path> [--command=header|pages|page|check] [options]

Options:`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
