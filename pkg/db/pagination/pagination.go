package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Page carries offset pagination parameters from the query string.
type Page struct {
	Page     int `form:"page,default=1" validate:"gte=1"`
	PageSize int `form:"page_size,default=25" validate:"gte=1,lte=250"`
}

// Normalize clamps parameters into the allowed window.
func (p Page) Normalize(defaultSize, maxSize int) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultSize
	}
	if maxSize > 0 && p.PageSize > maxSize {
		p.PageSize = maxSize
	}
	return p
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// PageInfo describes an offset-paginated result set.
type PageInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int64 `json:"total_pages"`
}

// NewPageInfo computes total_pages as ceil(total / pageSize).
func NewPageInfo(total int64, page Page) PageInfo {
	info := PageInfo{
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	if page.PageSize > 0 {
		info.TotalPages = (total + int64(page.PageSize) - 1) / int64(page.PageSize)
	}
	return info
}

// Cursor is an opaque keyset position for cursor-paginated listings.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CursorPage carries cursor pagination parameters from the query string.
type CursorPage struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size,default=50" validate:"gte=1,lte=250"`
}

// CursorPageInfo describes a cursor-paginated result set.
type CursorPageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo trims the extra lookahead row and encodes the next token.
func BuildCursorPageInfo[T any](data []*T, limit int32, extractCursor func(*T) string) *CursorPageInfo {
	if len(data) == 0 {
		return &CursorPageInfo{HasMore: false}
	}

	hasMore := false
	if len(data) > int(limit) {
		hasMore = true
		data = data[:limit]
	}

	return &CursorPageInfo{
		HasMore:       hasMore,
		NextPageToken: extractCursor(data[len(data)-1]),
	}
}
