// Package templates renders the rename templates schedules apply after a
// shuffle. Templates use text/template with the sprig function map, minus the
// helpers that reach into the process environment or filesystem.
package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	sprig "github.com/Masterminds/sprig/v3"
)

// NameData is the activation a rename template sees.
type NameData struct {
	// Name is the playlist's current title.
	Name string
	// Tracks is the playlist's track count after the shuffle.
	Tracks int
	// Time is when the shuffle ran.
	Time time.Time
}

func funcMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	} {
		delete(funcs, name)
	}
	return funcs
}

func compile(source string) (*template.Template, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("templates: rename template empty")
	}
	tmpl, err := template.New("rename").Funcs(funcMap()).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("templates: parse rename template: %w", err)
	}
	return tmpl, nil
}

// Validate reports whether the template parses. Execution errors (bad field
// references) still surface at render time; parse errors are caught at config
// load so operators hear about them before the first schedule fires.
func Validate(source string) error {
	_, err := compile(source)
	return err
}

// Render executes the template against data. The result is trimmed and must
// be non-empty, the upstream service rejects blank playlist names.
func Render(source string, data NameData) (string, error) {
	tmpl, err := compile(source)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: render rename template: %w", err)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return "", fmt.Errorf("templates: rename template produced empty name")
	}
	return name, nil
}
