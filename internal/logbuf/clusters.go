package logbuf

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"

	"github.com/opscope/opscope/internal/model"
)

// Variable tokens stripped before fingerprinting, most specific first: GUIDs
// shadow plain numbers and quoted strings shadow their contents.
var (
	guidPattern   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	quotedPattern = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	pathPattern   = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\-]+){2,}`)
	hexPattern    = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	numPattern    = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// Fingerprint normalizes an error message plus exception type into a stable
// shape hash: two errors that differ only in ids, numbers, quoted values or
// file paths share a fingerprint.
func Fingerprint(message, exceptionType string) (string, string) {
	normalized := normalizeShape(exceptionType + ": " + message)
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("%016x", h.Sum64()), normalized
}

func normalizeShape(text string) string {
	text = guidPattern.ReplaceAllString(text, "<guid>")
	text = quotedPattern.ReplaceAllString(text, "<str>")
	text = pathPattern.ReplaceAllString(text, "<path>")
	text = hexPattern.ReplaceAllString(text, "<hex>")
	text = numPattern.ReplaceAllString(text, "<num>")
	return spacePattern.ReplaceAllString(text, " ")
}

// Clusters groups the currently buffered Error and Fatal entries by message
// shape. The computation runs over a snapshot taken at call time; nothing is
// cached between calls. Output is sorted by count descending (fingerprint
// ascending on ties) and capped at maxClusters.
func (r *Ring) Clusters(maxClusters int) []model.ErrorCluster {
	errLevel := model.LevelError
	snapshot := r.GetFiltered(model.BufferFilter{MinLevel: &errLevel})

	byPrint := make(map[string]*model.ErrorCluster)
	for _, entry := range snapshot {
		print, pattern := Fingerprint(entry.Message, entry.ExceptionType)
		cluster, ok := byPrint[print]
		if !ok {
			byPrint[print] = &model.ErrorCluster{
				Fingerprint: print,
				Pattern:     pattern,
				Count:       1,
				FirstSeen:   entry.Timestamp,
				LastSeen:    entry.Timestamp,
				Example:     entry,
			}
			continue
		}
		cluster.Count++
		if entry.Timestamp.Before(cluster.FirstSeen) {
			cluster.FirstSeen = entry.Timestamp
		}
		if entry.Timestamp.After(cluster.LastSeen) {
			cluster.LastSeen = entry.Timestamp
			cluster.Example = entry
		}
	}

	clusters := make([]model.ErrorCluster, 0, len(byPrint))
	for _, c := range byPrint {
		clusters = append(clusters, *c)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Fingerprint < clusters[j].Fingerprint
	})
	if maxClusters > 0 && len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	return clusters
}
