package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	td := NewTableData("DIR", "ENTRIES")
	td.AddRow("root", "3")
	td.AddRow("disposal", "0")

	assert.Equal(t, []string{"DIR", "ENTRIES"}, td.Headers())
	require.Len(t, td.Rows(), 2)

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, td))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "root")
}
