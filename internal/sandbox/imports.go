package sandbox

import (
	"regexp"
	"strings"
)

// toolkitImports are the import lines that bind a name the namespace already
// provides.
var toolkitImports = map[string]bool{
	"import pandas as pd":             true,
	"import numpy as np":              true,
	"import plotly.express as px":     true,
	"import matplotlib.pyplot as plt": true,
	"import seaborn as sns":           true,
	"import math":                     true,
}

var importRe = regexp.MustCompile(`^\s*(?:import\s+([\w.]+)|from\s+([\w.]+)\s+import\b)`)

// normalizeImports blanks the toolkit imports of src so that line numbers are
// kept, and rejects any other import. An indented import becomes pass so the
// enclosing block keeps a body.
func normalizeImports(src string) (string, *ExecutionError) {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		stmt := strings.TrimSpace(line)
		if hash := strings.IndexByte(stmt, '#'); hash >= 0 {
			stmt = strings.TrimSpace(stmt[:hash])
		}
		stmt = strings.Join(strings.Fields(stmt), " ")
		if toolkitImports[stmt] {
			lines[i] = ""
			if indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]; indent != "" {
				lines[i] = indent + "pass"
			}
			continue
		}
		m := importRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		module := m[1]
		if module == "" {
			module = m[2]
		}
		return "", errorf(KindForbidden, i+1, "import of %q is not allowed; pd, np, px, plt, sns and math are already available", module)
	}
	return strings.Join(lines, "\n"), nil
}
