package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads a comma-separated ordering param; a leading "-" orders the field descending.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// bindUserFilter reads the user list filters from the query string.
// Dates may be given in any layout cast understands; unparsable ones are rejected.
func bindUserFilter(ctx echo.Context) (*user.QueryFilter, error) {
	filter := &user.QueryFilter{
		Search:      ctx.QueryParam("search"),
		Role:        ctx.QueryParam("role"),
		JoinedClass: ctx.QueryParam("class"),
	}
	for param, dest := range map[string]*time.Time{
		"created_from": &filter.CreatedFrom,
		"created_to":   &filter.CreatedTo,
	} {
		raw := strings.TrimSpace(ctx.QueryParam(param))
		if raw == "" {
			continue
		}
		t, err := cast.ToTimeE(raw)
		if err != nil {
			return nil, core.NewValidationError(err, core.FieldError{Field: param, Error: "invalid date"})
		}
		*dest = t.UTC()
	}
	filter.Clean()
	return filter, nil
}
