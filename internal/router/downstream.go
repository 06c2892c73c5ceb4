package router

import (
	"fmt"
	"io"
	"net/url"

	"github.com/valyala/fasttemplate"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// DownstreamTemplate renders a route's downstream path.
type DownstreamTemplate struct {
	route    string
	raw      string
	template *fasttemplate.Template
}

// CompileDownstream compiles a downstream template for the named route.
func CompileDownstream(route, raw string) (*DownstreamTemplate, error) {
	t, err := fasttemplate.NewTemplate(raw, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("route %s: downstream template %q: %w", route, raw, err)
	}
	return &DownstreamTemplate{route: route, raw: raw, template: t}, nil
}

// String returns the template as configured.
func (d *DownstreamTemplate) String() string {
	return d.raw
}

// Build substitutes every {name} with its escaped captured value. A
// placeholder without a captured value is an InconsistencyError; table
// compilation rejects such routes, so reaching it means the table and
// the match disagree.
func (d *DownstreamTemplate) Build(values Placeholders) (string, error) {
	return d.template.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		value, ok := values[tag]
		if !ok {
			return 0, util.NewInconsistencyError(d.route, tag)
		}
		return io.WriteString(w, url.PathEscape(value))
	})
}
