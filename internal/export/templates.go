package export

import (
	"bytes"
	"html/template"
	"strings"
)

var caseTemplate = template.Must(template.New("case").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(caseTemplateText))

// RenderCaseHTML renders the assembled case tree. The tree is the same nested
// structure the API serves: goals with contexts, strategies and property
// claims, claims carrying evidence and sub-claims.
func RenderCaseHTML(caseName string, tree map[string]any) (string, error) {
	var buf bytes.Buffer
	err := caseTemplate.Execute(&buf, map[string]any{
		"case_name": caseName,
		"tree":      tree,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

const caseTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.case_name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #1c1c1c; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .description { color: #555; margin-bottom: 2rem; }
    .element { margin: 0.75rem 0 0.75rem 1.25rem; padding: 0.5rem 0.75rem; border-left: 3px solid #888; }
    .element .label { font-weight: bold; }
    .element .kind { color: #666; font-size: 0.8em; text-transform: uppercase; letter-spacing: 0.05em; }
    .goal { border-left-color: #2b6cb0; }
    .context { border-left-color: #718096; }
    .strategy { border-left-color: #6b46c1; }
    .property_claim { border-left-color: #2f855a; }
    .evidence { border-left-color: #b7791f; }
  </style>
</head>
<body>
  <h1>{{.case_name}}</h1>
  {{with .tree.description}}<p class="description">{{.}}</p>{{end}}
  {{range .tree.goals}}{{template "goal" .}}{{end}}
</body>
</html>

{{define "goal"}}
<div class="element goal">
  <span class="kind">Goal</span>
  <div class="label">{{.name}}</div>
  <div>{{.short_desc}}</div>
  {{range .context}}
  <div class="element context">
    <span class="kind">Context</span>
    <div class="label">{{.name}}</div>
    <div>{{.short_desc}}</div>
  </div>
  {{end}}
  {{range .property_claims}}{{template "claim" .}}{{end}}
  {{range .strategies}}
  <div class="element strategy">
    <span class="kind">Strategy</span>
    <div class="label">{{.name}}</div>
    <div>{{.short_desc}}</div>
    {{range .property_claims}}{{template "claim" .}}{{end}}
  </div>
  {{end}}
</div>
{{end}}

{{define "claim"}}
<div class="element property_claim">
  <span class="kind">Claim</span>
  <div class="label">{{.name}}</div>
  <div>{{.short_desc}}</div>
  {{range .evidence}}
  <div class="element evidence">
    <span class="kind">Evidence</span>
    <div class="label">{{.name}}</div>
    <div>{{.short_desc}}</div>
    {{with .url}}<div><a href="{{.}}">{{.}}</a></div>{{end}}
  </div>
  {{end}}
  {{range .property_claims}}{{template "claim" .}}{{end}}
</div>
{{end}}`
