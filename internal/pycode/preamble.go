// Package pycode assembles the full script handed to the sandboxed
// interpreter: a plotting preamble, an optional preloaded dataset, and
// the user's (rewritten) code. Pure string transformation, no side
// effects.
package pycode

import (
	"fmt"
	"strings"

	"script-sandbox/internal/capture"
)

// DatasetContext is a materialized tabular dataset to preload into the
// well-known `df` variable before user code runs.
type DatasetContext struct {
	CSV     string
	Rows    int
	Columns int
}

// The preamble forces a headless plotting backend and replaces show/save
// with wrappers that print the current figure to stdout as a base64 data
// URI behind the capture marker. Stdout is the only channel back to the
// parent process, so images piggy-back on it.
const preambleTemplate = `import matplotlib
matplotlib.use('Agg')
import matplotlib.pyplot as plt
import io as _sbx_io
import base64 as _sbx_b64

def _sbx_emit_figure(*args, **kwargs):
    fig = plt.gcf()
    if not fig.get_axes():
        return
    buf = _sbx_io.BytesIO()
    fig.savefig(buf, format='png', bbox_inches='tight')
    buf.seek(0)
    print('%s' + 'data:image/png;base64,' + _sbx_b64.b64encode(buf.read()).decode('ascii'))
    plt.close(fig)

plt.show = _sbx_emit_figure
plt.savefig = _sbx_emit_figure

`

const datasetTemplate = `import pandas as _sbx_pd
from io import StringIO as _sbx_StringIO
df = _sbx_pd.read_csv(_sbx_StringIO('''%s'''))
print('Dataset loaded: {} rows x {} columns'.format(df.shape[0], df.shape[1]))

`

// Build assembles the complete script: preamble, optional dataset
// injection, then the user code with direct file reads neutralized.
func Build(code string, ds *DatasetContext) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf(preambleTemplate, capture.MarkerPrefix))
	if ds != nil && ds.CSV != "" {
		b.WriteString(fmt.Sprintf(datasetTemplate, escapeTriple(ds.CSV)))
	}
	b.WriteString(RewriteFileReads(code))

	return b.String()
}

// escapeTriple makes arbitrary CSV text safe inside a triple-single-quoted
// Python literal.
func escapeTriple(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}
