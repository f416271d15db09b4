package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const irisCSV = `sepal,petal,name,class
5.1,1.4,setosa,1
4.9,?,setosa,1
6.3,4.9,versicolor,2
`

func TestReadCSV_InfersKinds(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(irisCSV), CSVOptions{})
	require.NoError(t, err)

	require.Equal(t, 4, table.Width())
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, []Column{
		{Name: "sepal", Kind: KindReal},
		{Name: "petal", Kind: KindReal},
		{Name: "name", Kind: KindString},
		{Name: "class", Kind: KindInt},
	}, table.Columns)

	assert.True(t, table.Rows[1][1].IsMissing())

	v, ok := table.Rows[2][0].RealValue()
	assert.True(t, ok)
	assert.Equal(t, 6.3, v)

	n, ok := table.Rows[0][3].IntValue()
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestReadCSV_TSVAndRaggedRows(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("a\tb\n1\tx\n"), CSVOptions{Comma: '\t'})
	require.NoError(t, err)
	assert.Equal(t, KindInt, table.Columns[0].Kind)
	assert.Equal(t, KindString, table.Columns[1].Kind)

	_, err = ReadCSV(strings.NewReader("a,b\n1\n"), CSVOptions{})
	require.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a,b\n"), CSVOptions{})
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestReadCSV_AllMissingColumn(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("a,b\n1,?\n2,\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindMissing, table.Columns[1].Kind)
}

func TestReadYAML_CoercesToDeclaredKinds(t *testing.T) {
	doc := `columns:
  - name: x
    type: real
  - name: word
    type: string
  - name: label
    type: int
rows:
  - [1, cat, 1]
  - [2.5, 42, 2]
  - [~, dog, 2]
`
	table, err := ReadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	v, ok := table.Rows[0][0].RealValue()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	s, ok := table.Rows[1][1].StringValue()
	require.True(t, ok)
	assert.Equal(t, "42", s)

	assert.True(t, table.Rows[2][0].IsMissing())
}

func TestReadJSON_KeepsIntegers(t *testing.T) {
	doc := `{"columns":[{"name":"n","type":"int"},{"name":"c","type":"string"}],"rows":[[3,"a"],[4,"b"]]}`
	table, err := ReadJSON(strings.NewReader(doc))
	require.NoError(t, err)

	n, ok := table.Rows[1][0].IntValue()
	require.True(t, ok)
	assert.Equal(t, int64(4), n)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(irisCSV), 0644))

	table, err := LoadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	_, err = LoadFile(filepath.Join(dir, "data.parquet"))
	assert.Error(t, err)
}

func TestWrapIndex(t *testing.T) {
	tests := []struct {
		idx, n, want int
	}{
		{0, 4, 0},
		{3, 4, 3},
		{4, 4, 0},
		{9, 4, 1},
		{-1, 4, 3},
		{-4, 4, 0},
		{-5, 4, 3},
		{2, 0, -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, WrapIndex(tt.idx, tt.n), "WrapIndex(%d, %d)", tt.idx, tt.n)
	}
}

func TestLabelColumn(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(irisCSV), CSVOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, table.LabelColumn("name"))
	assert.Equal(t, 2, table.LabelColumn("NAME"))
	assert.Equal(t, 3, table.LabelColumn(""))
	assert.Equal(t, 3, table.LabelColumn("does-not-exist"))
}

func TestLabels(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(irisCSV), CSVOptions{})
	require.NoError(t, err)

	labels, err := table.Labels(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1", "2"}, labels)

	labels, err = table.Labels(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"setosa", "setosa", "versicolor"}, labels)

	_, err = table.Labels(0)
	assert.ErrorIs(t, err, ErrLabelKind)

	table.Rows[0][2] = Missing()
	_, err = table.Labels(2)
	assert.ErrorIs(t, err, ErrMissingLabel)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, Real(2), Coerce(Int(2), KindReal))
	assert.Equal(t, Int(2), Coerce(Real(2), KindInt))
	assert.True(t, Coerce(Real(2.5), KindInt).IsMissing())
	assert.Equal(t, String("7"), Coerce(Int(7), KindString))
	assert.Equal(t, Int(12), Coerce(String(" 12 "), KindInt))
	assert.True(t, Coerce(String("abc"), KindReal).IsMissing())
}

func TestWriteCSV(t *testing.T) {
	table := &Table{
		Columns: []Column{{Name: "a", Kind: KindInt}, {Name: "b", Kind: KindString}},
		Rows: [][]Cell{
			{Int(1), String("x")},
			{Missing(), String("y")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))
	assert.Equal(t, "a,b\n1,x\n?,y\n", buf.String())
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("Double")))
	assert.Equal(t, KindReal, k)

	text, err := KindInt.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "int", string(text))

	assert.Error(t, k.UnmarshalText([]byte("blob")))
}
