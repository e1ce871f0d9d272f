package transaction

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor marks the (date, id) tuple of the last row a page served.
// Rows strictly below the tuple in (date desc, id desc) order belong to
// later pages, so the cursor stays stable under concurrent inserts.
type Cursor struct {
	Date time.Time
	ID   uuid.UUID
}

// Encode renders the cursor as an opaque token. Callers must not parse it.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%s|%s", c.Date.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor token. Corrupt input degrades to no
// cursor (first page) rather than an error.
func DecodeCursor(token string) *Cursor {
	if token == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil
	}
	date, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil
	}
	return &Cursor{Date: date, ID: id}
}
