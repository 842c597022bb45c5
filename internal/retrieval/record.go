package retrieval

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// recordNamespace scopes content-derived record ids.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("bugtriage.bug-record"))

// BugRecord is a bug report as stored in the similarity index.
type BugRecord struct {
	ID            string
	Body          string
	HasResolution bool
}

// Neighbor is a stored bug returned by a similarity query.
type Neighbor struct {
	ID            string  `json:"id"`
	Body          string  `json:"body"`
	HasResolution bool    `json:"hasResolution"`
	Score         float32 `json:"score"`
}

// RecordID derives a stable id from the report content. Identical content
// always yields the same id. Each field is length-prefixed so no choice of
// field contents can shift bytes from one field into the next.
func RecordID(title, description, resolution string) string {
	name := make([]byte, 0, len(title)+len(description)+len(resolution)+3*binary.MaxVarintLen64)
	for _, f := range []string{title, description, resolution} {
		name = binary.AppendUvarint(name, uint64(len(f)))
		name = append(name, f...)
	}
	return uuid.NewSHA1(recordNamespace, name).String()
}

// NewBugRecord builds the stored form of a bug report.
func NewBugRecord(title, description, resolution string) BugRecord {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(description)
	if resolution != "" {
		b.WriteString("\n\nResolution:\n")
		b.WriteString(resolution)
	}
	return BugRecord{
		ID:            RecordID(title, description, resolution),
		Body:          b.String(),
		HasResolution: resolution != "",
	}
}

// QueryText is the text embedded to look up neighbours of a new report.
// It never includes the resolution.
func QueryText(title, description string) string {
	return title + " " + description
}
