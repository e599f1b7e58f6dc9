package pagination

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// Default values.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// New creates pagination with default values.
func New() *Pagination {
	return &Pagination{
		Page:     DefaultPage,
		PageSize: DefaultPageSize,
	}
}

// Offset returns the offset for database queries.
func (p *Pagination) Offset() int {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p *Pagination) Limit() int {
	if p.PageSize < 1 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// FetchLimit returns the limit to query with so that HasMore can be detected
// without a separate count.
func (p *Pagination) FetchLimit() int {
	return p.Limit() + 1
}

// PageInfo represents pagination info in API responses.
type PageInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// Info returns pagination info for a page fetched with FetchLimit. fetched is the
// number of rows the query returned.
func (p *Pagination) Info(fetched int) PageInfo {
	page := p.Page
	if page < 1 {
		page = DefaultPage
	}
	return PageInfo{
		Page:     page,
		PageSize: p.Limit(),
		HasMore:  fetched > p.Limit(),
	}
}

// Trim drops the extra look-ahead row from items.
func Trim[T any](p *Pagination, items []T) []T {
	if len(items) > p.Limit() {
		return items[:p.Limit()]
	}
	return items
}
