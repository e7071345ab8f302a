package airdropserver

import (
	"io"
	"mime/multipart"
	"strings"
	"time"

	"goairdrop/wire"
)

// timestampFieldName reports whether a multipart form field name carries a
// sibling modification-time part, per spec.md §4.8 ("<partName>_timestamp").
func timestampFieldName(name string) bool {
	return strings.HasSuffix(name, wire.TimestampPartSuffix) && name != wire.TimestampPartSuffix
}

// baseFieldName strips the "_timestamp" suffix to recover the file part's
// own field name.
func baseFieldName(name string) string {
	return strings.TrimSuffix(name, wire.TimestampPartSuffix)
}

// readTimestampPart reads a small "_timestamp" sibling part as an ISO-8601
// modification time.
func readTimestampPart(part *multipart.Part) (time.Time, error) {
	raw, err := io.ReadAll(io.LimitReader(part, 64))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
}
