// Inspector is an offline debugging tool: it lists the historical log
// partitions in a directory and, for a chosen date, prints level counts and
// the top error clusters without going through the server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opscope/opscope/internal/logbuf"
	"github.com/opscope/opscope/internal/model"
)

func main() {
	dir := flag.String("dir", "./logs", "history directory")
	date := flag.String("date", "", "inspect one partition (YYYY-MM-DD)")
	maxClusters := flag.Int("clusters", 10, "max error clusters to print")
	flag.Parse()

	if *date == "" {
		listPartitions(*dir)
		return
	}
	inspectPartition(*dir, *date, *maxClusters)
}

func listPartitions(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read dir: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("--- Partitions ---")
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "logs-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Printf("%s  %10d bytes\n", strings.TrimSuffix(strings.TrimPrefix(name, "logs-"), ".jsonl"), info.Size())
	}
}

func inspectPartition(dir, date string, maxClusters int) {
	path := filepath.Join(dir, "logs-"+date+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open partition: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ring := logbuf.NewRing(logbuf.DefaultCapacity)
	byLevel := make(map[model.Level]int)
	var total, corrupt int

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry model.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			corrupt++
			continue
		}
		total++
		byLevel[entry.Level]++
		if entry.Level >= model.LevelError {
			ring.Append(entry)
		}
	}

	fmt.Printf("--- %s: %d entries", date, total)
	if corrupt > 0 {
		fmt.Printf(" (%d corrupt lines skipped)", corrupt)
	}
	fmt.Println(" ---")

	levels := make([]model.Level, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	for _, level := range levels {
		fmt.Printf("%-12s %d\n", level.String(), byLevel[level])
	}

	clusters := ring.Clusters(maxClusters)
	if len(clusters) == 0 {
		return
	}
	fmt.Println("\n--- Error Clusters ---")
	for _, cluster := range clusters {
		fmt.Printf("%4d × %s  (%s)\n", cluster.Count, cluster.Pattern, cluster.Fingerprint)
	}
}
