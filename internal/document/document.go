// Package document builds the HTML page a token script runs in.
package document

import (
	"strings"
	"text/template"
)

// Input is everything the page embeds. Script and Seed come from the chain
// and are written verbatim.
type Input struct {
	Script      string
	Seed        string
	TokenID     uint64
	LibraryDeps []string
	Marker      string
}

var pageTemplate = template.Must(template.New("page").Parse(`<html>
  <body id="{{.Marker}}"></body>
{{- range .LibraryDeps}}
  <script src="{{.}}"></script>
{{- end}}
  <script>window.tokenData = { hash: "{{.Seed}}", tokenId: {{.TokenID}} }</script>
  <script>{{.Script}}</script>
</html>
`))

// Assemble renders the page. Same input, same bytes.
func Assemble(in Input) (string, error) {
	var b strings.Builder
	if err := pageTemplate.Execute(&b, in); err != nil {
		return "", err
	}
	return b.String(), nil
}
