package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/burenotti/healthlog/internal/domain"
	"github.com/labstack/echo/v4"
)

const HeaderTotalCount = "X-Total-Count"

// pageRequest reads page, size and any number of sort=field[,asc|desc] query parameters.
func pageRequest(c echo.Context) (domain.PageRequest, error) {
	req := domain.PageRequest{Size: domain.DefaultPageSize}
	q := c.QueryParams()

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			return req, fmt.Errorf("%w: page must be a non-negative integer", domain.ErrInvalidPage)
		}
		req.Page = page
	}

	if v := q.Get("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return req, fmt.Errorf("%w: size must be a positive integer", domain.ErrInvalidPage)
		}
		req.Size = min(size, domain.MaxPageSize)
	}

	for _, v := range q["sort"] {
		field, dir, _ := strings.Cut(v, ",")
		if field == "" {
			continue
		}
		o := domain.Order{Field: field}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			o.Desc = true
		default:
			return req, fmt.Errorf("%w: direction %q", domain.ErrInvalidSort, dir)
		}
		req.Sort = append(req.Sort, o)
	}
	return req, nil
}

// setPaginationHeaders writes X-Total-Count and a Link header with next, prev, last and first pages.
func setPaginationHeaders[T any](c echo.Context, page domain.Page[T]) {
	h := c.Response().Header()
	h.Set(HeaderTotalCount, strconv.FormatInt(page.Total, 10))

	lastPage := max(page.TotalPages()-1, 0)

	var links []string
	if page.Page+1 <= lastPage {
		links = append(links, pageLink(c.Request(), page.Page+1, page.Size, "next"))
	}
	if page.Page > 0 {
		links = append(links, pageLink(c.Request(), page.Page-1, page.Size, "prev"))
	}
	links = append(links,
		pageLink(c.Request(), lastPage, page.Size, "last"),
		pageLink(c.Request(), 0, page.Size, "first"),
	)
	h.Set("Link", strings.Join(links, ","))
}

func pageLink(r *http.Request, page, size int, rel string) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return fmt.Sprintf(`<%s>; rel="%s"`, u.String(), rel)
}
