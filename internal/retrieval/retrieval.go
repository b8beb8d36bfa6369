// Package retrieval turns matched record identifiers into dated document links.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"kartka/internal/recordid"
)

// DefaultLinkHost serves the document links.
const DefaultLinkHost = "drive.google.com"

// Result is one matched document.
type Result struct {
	Identifier  string `json:"identifier"`
	Timestamp   string `json:"timestamp"`
	DisplayDate string `json:"date"`
	RemoteID    string `json:"remote_id"`
	Link        string `json:"link"`
}

// Formatter renders search matches.
type Formatter struct {
	LinkHost string
}

// Link returns the sharing link of a remote document.
func (f Formatter) Link(remoteID string) string {
	host := f.LinkHost
	if host == "" {
		host = DefaultLinkHost
	}
	return fmt.Sprintf("https://%s/file/d/%s/view?usp=sharing", host, remoteID)
}

// Format decodes ids, drops duplicates and returns the documents newest first. Malformed
// identifiers are skipped and returned as errors alongside the results.
func (f Formatter) Format(ids []string) ([]Result, []error) {
	seen := make(map[string]bool, len(ids))
	results := make([]Result, 0, len(ids))
	var errs []error

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		timestamp, remoteID, err := recordid.Decode(id)
		if err == nil {
			_, err = recordid.ParseTimestamp(timestamp)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, Result{
			Identifier:  id,
			Timestamp:   timestamp,
			DisplayDate: strings.ReplaceAll(timestamp, "_", " "),
			RemoteID:    remoteID,
			Link:        f.Link(remoteID),
		})
	}

	// The timestamp prefix is fixed width, so string order is time order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	return results, errs
}

// Line renders a result the way search prints it.
func (r Result) Line() string {
	return fmt.Sprintf("%s\t -> %s", r.DisplayDate, r.Link)
}
