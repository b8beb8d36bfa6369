// Package recordid encodes the composite key under which every transcript line is
// stored in the search index.
//
// An identifier has the form "2006-01-02_1504~<remote id>". The timestamp prefix is
// fixed width, so sorting identifiers as strings orders them chronologically.
package recordid

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// Separator joins the timestamp and the remote id. Drive ids never contain it.
	Separator = "~"

	// TimestampLayout is the minute-precision layout of the identifier prefix.
	TimestampLayout = "2006-01-02_1504"
)

// ErrMalformedIdentifier is returned when an identifier cannot be split into a
// timestamp and a remote id.
var ErrMalformedIdentifier = errors.New("malformed record identifier")

// Encode builds the identifier for a document created at t and stored under remoteID.
func Encode(t time.Time, remoteID string) string {
	return t.Format(TimestampLayout) + Separator + remoteID
}

// Decode splits an identifier on the first separator.
func Decode(id string) (timestamp string, remoteID string, err error) {
	timestamp, remoteID, found := strings.Cut(id, Separator)
	if !found {
		return "", "", fmt.Errorf("%w: %q has no %q separator", ErrMalformedIdentifier, id, Separator)
	}
	if timestamp == "" || remoteID == "" {
		return "", "", fmt.Errorf("%w: %q has an empty part", ErrMalformedIdentifier, id)
	}
	return timestamp, remoteID, nil
}

// ParseTimestamp parses a decoded timestamp prefix in the local time zone.
func ParseTimestamp(timestamp string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, timestamp, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedIdentifier, timestamp)
	}
	return t, nil
}
