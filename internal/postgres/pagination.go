package postgres

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	cursorLen = 8 + 16
)

// Cursor points at the last entry of a returned page. On the wire it is
// base64url(unix nanos | uuid bytes).
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

func (c Cursor) String() string {
	var buf [cursorLen]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(c.At.UnixNano()))
	copy(buf[8:], c.ID[:])
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// ParseCursor returns nil for an empty string.
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(data) != cursorLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidCursor, len(data))
	}
	id, err := uuid.FromBytes(data[8:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos := int64(binary.BigEndian.Uint64(data[:8]))
	return &Cursor{At: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Page — параметры запроса истории.
type Page struct {
	After string
	Limit int
}

// ParsePage reads the after/limit query values. An empty limit means the
// default page size.
func ParsePage(after, limit string) (Page, error) {
	p := Page{After: after}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("%w: limit %q", ErrInvalidCursor, limit)
		}
		p.Limit = n
	}
	if _, err := ParseCursor(after); err != nil {
		return Page{}, err
	}
	return p, nil
}

func (p Page) size() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	}
	return p.Limit
}
