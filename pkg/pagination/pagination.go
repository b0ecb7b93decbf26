package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads startIndex (or offset) and limit, capped at MaxLimit.
func FromContext(c echo.Context) Params {
	return FromContextMax(c, MaxLimit)
}

// FromContextMax is FromContext with a configurable cap, used when the
// searchWidget.maximumResults global property overrides MaxLimit.
func FromContextMax(c echo.Context, max int) Params {
	if max <= 0 {
		max = MaxLimit
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > max {
		limit = max
	}

	offset, _ := strconv.Atoi(c.QueryParam("startIndex"))
	if offset <= 0 {
		offset, _ = strconv.Atoi(c.QueryParam("offset"))
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// All is used by callers that need every row (exports, cascades).
var All = Params{Limit: 0, Offset: 0}

// SQL returns the LIMIT and OFFSET clause. A zero limit means no limit.
func (p Params) SQL() string {
	if p.Limit <= 0 {
		return fmt.Sprintf("OFFSET %d", p.Offset)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// Window returns the [start:end) slice bounds of this page over n items.
func (p Params) Window(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := n
	if p.Limit > 0 && start+p.Limit < n {
		end = start + p.Limit
	}
	return start, end
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Limit > 0 && p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page, never negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is a navigation link of a paginated response.
type Link struct {
	Rel string `json:"rel"`
	URI string `json:"uri"`
}

// Response wraps a paginated API response.
type Response struct {
	Results    interface{} `json:"results"`
	TotalCount int         `json:"totalCount"`
	StartIndex int         `json:"startIndex"`
	Limit      int         `json:"limit"`
	HasMore    bool        `json:"hasMore"`
	Links      []Link      `json:"links,omitempty"`
}

// NewResponse builds the response for one page. Links keep the request's
// other query parameters.
func NewResponse(c echo.Context, results interface{}, total int, p Params) *Response {
	resp := &Response{
		Results:    results,
		TotalCount: total,
		StartIndex: p.Offset,
		Limit:      p.Limit,
		HasMore:    p.HasNext(total),
	}
	if c == nil {
		return resp
	}
	u := *c.Request().URL
	link := func(rel string, offset int) Link {
		q := u.Query()
		q.Set("startIndex", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(p.Limit))
		return Link{Rel: rel, URI: (&url.URL{Path: u.Path, RawQuery: q.Encode()}).String()}
	}
	if p.HasNext(total) {
		resp.Links = append(resp.Links, link("next", p.NextOffset()))
	}
	if p.HasPrevious() {
		resp.Links = append(resp.Links, link("prev", p.PreviousOffset()))
	}
	return resp
}
