// Package render turns a LaTeX template plus one record into document text.
//
// Templates use delimiters that survive LaTeX editors: \VAR{expr} for
// substitutions, \BLOCK{stmt} for statements, \#{...} for comments, whole-line
// statements prefixed with "%-" and whole-line comments prefixed with "%#".
// Statements follow pongo2 (Django) syntax. A statement or comment swallows
// the newline that follows it, and output is never escaped.
package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

// LatexRenderer renders one compiled template for many records. It is safe
// for concurrent use.
type LatexRenderer struct {
	name     string
	strict   bool
	logger   *slog.Logger
	tpl      *pongo2.Template
	literals []string
	missing  []string
}

// Option configures a LatexRenderer.
type Option func(*LatexRenderer)

// WithStrict makes Render fail when the template references a name that no
// field or statement provides. By default such references are left in the
// output exactly as written.
func WithStrict(strict bool) Option {
	return func(r *LatexRenderer) { r.strict = strict }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *LatexRenderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// LoadLatexTemplate reads and compiles the template at path. fields is the
// ordered field-name row of the record source.
func LoadLatexTemplate(path string, fields []string, opts ...Option) (*LatexRenderer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("read template %s", path), err)
	}
	return NewLatexRenderer(path, string(data), fields, opts...)
}

// NewLatexRenderer compiles source. name is used for error messages and as
// the base directory for include statements.
func NewLatexRenderer(name, source string, fields []string, opts ...Option) (*LatexRenderer, error) {
	r := &LatexRenderer{name: name, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	for _, f := range fields {
		if strings.HasPrefix(f, literalIdent) {
			return nil, common.InputLoadErrorf("field %q uses the reserved prefix %q", f, literalIdent)
		}
	}

	prog, err := translate(source, fields, !r.strict)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("template %s", name), err)
	}

	loader, err := pongo2.NewLocalFileSystemLoader(filepath.Dir(name))
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("template %s", name), err)
	}
	set := pongo2.NewSet("docbatch", loader)
	tpl, err := set.FromString(prog.source)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("compile template %s", name), err)
	}

	r.tpl = tpl
	r.literals = prog.literals
	r.missing = prog.unresolved
	if len(r.missing) > 0 {
		r.logger.Warn("template references unknown fields",
			"template", name,
			"fields", strings.Join(r.missing, ","),
			"strict", r.strict,
		)
	}
	return r, nil
}

// Unresolved lists the names the template references that no field or
// statement provides, in order of first use.
func (r *LatexRenderer) Unresolved() []string {
	return append([]string(nil), r.missing...)
}

// Render substitutes values into the template.
func (r *LatexRenderer) Render(values map[string]string) (string, error) {
	if r.strict && len(r.missing) > 0 {
		return "", common.RenderError(
			fmt.Sprintf("template %s", r.name),
			fmt.Errorf("unresolved names: %s", strings.Join(r.missing, ", ")),
		)
	}

	ctx := make(pongo2.Context, len(values)+len(r.literals))
	for k, v := range values {
		ctx[k] = v
	}
	for i, lit := range r.literals {
		ctx[literalName(i)] = lit
	}

	out, err := r.tpl.Execute(ctx)
	if err != nil {
		return "", common.RenderError(fmt.Sprintf("template %s", r.name), err)
	}
	return out, nil
}
