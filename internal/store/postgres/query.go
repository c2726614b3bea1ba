package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// listQuery appends time-range filters, newest-first ordering and paging to
// a SELECT that already ends in a WHERE clause.
func listQuery(base string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := len(args) + 1

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND created_at >= $%d", next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND created_at <= $%d", next)
		args = append(args, *opts.Until)
		next++
	}
	b.WriteString(" ORDER BY created_at DESC")
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}
