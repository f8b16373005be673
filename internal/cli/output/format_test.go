package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type row struct {
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
}

type rows []row

func (r rows) Headers() []string { return []string{"NAME", "ID"} }
func (r rows) Rows() [][]string {
	out := make([][]string, 0, len(r))
	for _, x := range r {
		out = append(out, []string{x.Name, x.ID})
	}
	return out
}

func TestPrinter_Formats(t *testing.T) {
	data := rows{{"a", "1-A"}, {"b", "2-B"}}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(data))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "2-B")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(data))
	var decoded []row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []row(data), decoded)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(data))
	assert.Contains(t, buf.String(), "- name: a")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(map[string]int{"n": 1}))
	assert.Contains(t, buf.String(), `"n": 1`, "non-table data falls back to JSON")
}

func TestPrintKeyValues(t *testing.T) {
	var kv KeyValues
	kv.Add("Entry ID", "0-1-2")
	kv.Add("Links", "2")

	var buf bytes.Buffer
	require.NoError(t, PrintKeyValues(&buf, kv))
	assert.Contains(t, buf.String(), "Entry ID")
	assert.Contains(t, buf.String(), "0-1-2")
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "512 B", Size(512))
	assert.Equal(t, "1.5 MiB (1572864)", Size(1572864))
	assert.Equal(t, "1,234,567", Count(1234567))
	assert.Equal(t, "0755", Mode(0o40755))

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "-", Time(time.Time{}, now))
	assert.Contains(t, Time(now.Add(-time.Hour), now), "1 hour ago")
}
