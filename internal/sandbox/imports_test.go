package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeImports(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		want       string
		wantModule string
		wantLine   int
	}{
		{
			name: "toolkit imports blanked",
			src:  "import pandas as pd\nimport numpy as np\nresult = 1",
			want: "\n\nresult = 1",
		},
		{
			name: "all toolkit modules",
			src:  "import plotly.express as px\nimport matplotlib.pyplot as plt\nimport seaborn as sns\nimport math",
			want: "\n\n\n",
		},
		{
			name: "extra spaces and comment",
			src:  "import   pandas  as pd   # data\nx = 1",
			want: "\nx = 1",
		},
		{
			name: "sole statement of a block",
			src:  "def f():\n    import numpy as np\nresult = 1",
			want: "def f():\n    pass\nresult = 1",
		},
		{
			name: "inside a block with other statements",
			src:  "if True:\n\timport math\n\tx = 1",
			want: "if True:\n\tpass\n\tx = 1",
		},
		{
			name: "no imports",
			src:  "result = orders\n# import os\ns = 'import os'",
			want: "result = orders\n# import os\ns = 'import os'",
		},
		{
			name:       "forbidden module",
			src:        "x = 1\nimport os",
			wantModule: `"os"`,
			wantLine:   2,
		},
		{
			name:       "from import",
			src:        "from subprocess import run",
			wantModule: `"subprocess"`,
			wantLine:   1,
		},
		{
			name:       "toolkit module under another alias",
			src:        "import pandas",
			wantModule: `"pandas"`,
			wantLine:   1,
		},
		{
			name:       "dotted module",
			src:        "import numpy as np\nimport plotly.graph_objects as go",
			wantModule: `"plotly.graph_objects"`,
			wantLine:   2,
		},
		{
			name:       "indented import",
			src:        "if True:\n    import sys",
			wantModule: `"sys"`,
			wantLine:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeImports(tt.src)
			if tt.wantModule != "" {
				require.NotNil(t, err)
				assert.Equal(t, KindForbidden, err.Kind)
				assert.Equal(t, tt.wantLine, err.Line)
				assert.Contains(t, err.Message, tt.wantModule)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
