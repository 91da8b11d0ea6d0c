package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutputter(t *testing.T) {
	for _, format := range []OutputFormat{OutputJSON, OutputYAML, OutputTable, ""} {
		out := NewOutputter(string(format), &bytes.Buffer{})
		require.NotNil(t, out)
		assert.Equal(t, format, out.GetFormat())
	}
}

func TestOutputter_PrintJSON(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{
			name: "struct",
			data: struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}{ID: "ws-1", Status: "running"},
			want: "{\n  \"id\": \"ws-1\",\n  \"status\": \"running\"\n}\n",
		},
		{
			name: "slice",
			data: []string{"python", "go"},
			want: "[\n  \"python\",\n  \"go\"\n]\n",
		},
		{
			name: "nil",
			data: nil,
			want: "null\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewOutputter("json", &buf).Print(tt.data))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputter_PrintYAML(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{
			name: "struct",
			data: struct {
				ID    string `yaml:"id"`
				Bytes int64  `yaml:"bytes"`
			}{ID: "proj-a", Bytes: 4096},
			want: "id: proj-a\nbytes: 4096\n",
		},
		{
			name: "nested",
			data: map[string]map[string]int{"limits": {"cpu": 2}},
			want: "limits:\n  cpu: 2\n",
		},
		{
			name: "slice",
			data: []string{"vscode", "node"},
			want: "- vscode\n- node\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewOutputter("yaml", &buf).Print(tt.data))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputter_PrintTable(t *testing.T) {
	var buf bytes.Buffer
	NewOutputter("table", &buf).PrintTable(
		[]string{"ID", "TYPE", "STATUS"},
		[][]string{{"ws-1", "python", "running"}, {"ws-2", "go", "stopped"}},
	)

	output := buf.String()
	flat := strings.ReplaceAll(output, " ", "")
	for _, want := range []string{"ID", "TYPE", "STATUS", "ws-1", "python", "running", "ws-2", "stopped"} {
		assert.True(t, strings.Contains(output, want) || strings.Contains(flat, want), "missing %q in:\n%s", want, output)
	}
	assert.True(t, strings.ContainsAny(output, "┌├└│─┬┴┼+|"), "not a table:\n%s", output)
}

func TestOutputter_Render(t *testing.T) {
	data := []string{"a"}
	rows := func() [][]string { return [][]string{{"a"}} }

	var table bytes.Buffer
	require.NoError(t, NewOutputter("table", &table).Render(data, []string{"NAME"}, rows))
	assert.Contains(t, table.String(), "a")

	var js bytes.Buffer
	require.NoError(t, NewOutputter("json", &js).Render(data, []string{"NAME"}, func() [][]string {
		t.Fatal("rows must not be built for json output")
		return nil
	}))
	assert.Equal(t, "[\n  \"a\"\n]\n", js.String())
}

func TestOutputter_PrintErrors(t *testing.T) {
	err := NewOutputter("table", &bytes.Buffer{}).Print(map[string]string{"k": "v"})
	assert.EqualError(t, err, "table format requires custom formatting")

	err = NewOutputter("xml", &bytes.Buffer{}).Print(map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func BenchmarkOutputter_PrintJSON(b *testing.B) {
	data := struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}{"ws-1", "python", "running"}

	out := NewOutputter("json", &bytes.Buffer{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = out.Print(data)
	}
}
