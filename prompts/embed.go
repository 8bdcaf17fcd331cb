// Package prompts holds the templates sent to the reasoning service.
package prompts

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

//go:embed *.liquid
var files embed.FS

// Template names.
const (
	Router           = "router"
	PlotSelection    = "plot_selection"
	DataOverview     = "data_overview"
	QueryGenerator   = "query_generator"
	DataExplorer     = "data_explorer"
	TargetingQuery   = "targeting_query"
	WriteEmails      = "write_emails"
	BusinessAnalyst  = "business_analyst"
	MarketingAnalyst = "marketing_analyst"

	schemaPartial = "schema"
)

var (
	once      sync.Once
	templates map[string]*liquid.Template
	schema    string
	loadErr   error
)

func load() {
	engine := liquid.NewEngine()
	templates = make(map[string]*liquid.Template)

	entries, err := files.ReadDir(".")
	if err != nil {
		loadErr = err
		return
	}
	for _, e := range entries {
		src, err := files.ReadFile(e.Name())
		if err != nil {
			loadErr = err
			return
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		if name == schemaPartial {
			schema = string(src)
			continue
		}
		tpl, perr := engine.ParseTemplate(src)
		if perr != nil {
			loadErr = fmt.Errorf("parsing %s: %w", e.Name(), perr)
			return
		}
		templates[name] = tpl
	}
}

// Render fills the named template. The shared table schema is available to
// every template as {{ schema }}.
func Render(name string, vars map[string]any) (string, error) {
	once.Do(load)
	if loadErr != nil {
		return "", loadErr
	}
	tpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	bindings := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		bindings[k] = v
	}
	if _, set := bindings["schema"]; !set {
		bindings["schema"] = schema
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return out, nil
}

// Names lists the available templates.
func Names() []string {
	once.Do(load)
	out := make([]string, 0, len(templates))
	for n := range templates {
		out = append(out, n)
	}
	return out
}
