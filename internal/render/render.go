// Package render implements lea's Jinja-equivalent templating surface
// for .sql.jinja scripts: variable substitution, conditionals, loops,
// and a load_yaml helper. It is a thin wrapper over text/template
// plus Masterminds/sprig, exposing a single render(text, context) ->
// text entry point to the parser.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig"
	"gopkg.in/yaml.v3"
)

// Context is the data a template body can see: an env lookup for
// environment variables, and a load_yaml function for pulling in
// sidecar YAML fixtures.
type Context struct {
	Env map[string]string
}

// Result is the rendered SQL text plus every YAML file load_yaml
// touched during rendering, so the parser can fold their mtimes into
// the script's effective mtime.
type Result struct {
	Text        string
	LoadedFiles []string
}

// Render expands a .sql.jinja template. baseDir anchors relative
// paths passed to load_yaml (the directory the template file lives
// in). name is used only in template parse-error messages.
func Render(name, text, baseDir string, ctx Context) (Result, error) {
	var loaded []string

	funcs := sprig.TxtFuncMap()
	funcs["env"] = func(key string) string { return ctx.Env[key] }
	funcs["load_yaml"] = func(relpath string) (any, error) {
		path := relpath
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, relpath)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load_yaml(%s): %w", relpath, err)
		}
		loaded = append(loaded, path)

		var out any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("load_yaml(%s): %w", relpath, err)
		}
		return normalizeYAML(out), nil
	}

	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return Result{}, fmt.Errorf("parsing template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return Result{}, fmt.Errorf("executing template %s: %w", name, err)
	}

	return Result{Text: buf.String(), LoadedFiles: loaded}, nil
}

// normalizeYAML converts yaml.v3's map[string]interface{} decode
// output (and nested maps within it) into plain maps so downstream
// template actions like {{ range $k, $v := $data }} and field lookups
// behave the same as with a map[string]any the caller built by hand.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAML(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return val
	}
}
