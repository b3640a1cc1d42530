// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "findings"))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("findings", cell, &r))
	}
	_, err := f.NewSheet("notes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellStr("notes", "A1", "keep me"))
	require.NoError(t, f.SaveAs(path))
}

func TestXLSX_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "test.xlsx")
	writeWorkbook(t, in, [][]any{
		{"id", "yxbx"},
		{1, "右肺上叶结节12mm。"},
		{2, "左肺下叶结节1.2cm。"},
		{3, "肝囊肿"},
	})

	tbl, err := Load(in)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"id", "yxbx"}, tbl.Header())

	texts, err := tbl.Column("yxbx")
	require.NoError(t, err)
	assert.Equal(t, []string{"右肺上叶结节12mm。", "左肺下叶结节1.2cm。", "肝囊肿"}, texts)

	require.NoError(t, tbl.SetColumn("pred_qwen", []string{"12", "8.5", ""}))
	out := filepath.Join(dir, "out", "result.xlsx")
	require.NoError(t, tbl.Save(out))

	book, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("findings")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "yxbx", "pred_qwen"}, rows[0])
	assert.Equal(t, "12", rows[1][2])
	assert.Equal(t, "8.5", rows[2][2])
	if len(rows[3]) > 2 {
		assert.Empty(t, rows[3][2], "none slot leaves the cell empty")
	}

	note, err := book.GetCellValue("notes", "A1")
	require.NoError(t, err)
	assert.Equal(t, "keep me", note)
}

func TestXLSX_ReplaceExistingColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "test.xlsx")
	writeWorkbook(t, in, [][]any{
		{"yxbx", "pred_qwen"},
		{"a", 1},
		{"b", 2},
	})

	tbl, err := Load(in)
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, tbl.SetColumn("pred_qwen", []string{"30", "40"}))
	assert.Equal(t, []string{"yxbx", "pred_qwen"}, tbl.Header())

	got, err := tbl.Column("pred_qwen")
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "40"}, got)

	require.NoError(t, tbl.Save(in))
	reloaded, err := Load(in)
	require.NoError(t, err)
	defer reloaded.Close()
	got, err = reloaded.Column("pred_qwen")
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "40"}, got)
}

func TestCSV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "test.csv")
	require.NoError(t, os.WriteFile(in, []byte("\ufeffid,yxbx\n1,\"右肺结节8mm,边界清\"\n2\n"), 0o644))

	tbl, err := Load(in)
	require.NoError(t, err)
	defer tbl.Close()

	texts, err := tbl.Column("yxbx")
	require.NoError(t, err)
	assert.Equal(t, []string{"右肺结节8mm,边界清", ""}, texts, "BOM stripped and ragged row padded")

	require.NoError(t, tbl.SetColumn("pred_m", []string{"8", ""}))
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, tbl.Save(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "id,yxbx,pred_m\n1,\"右肺结节8mm,边界清\",8\n2,,\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "data.json"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}

func TestColumn_Missing(t *testing.T) {
	tbl, err := fromRecords([][]string{{"a", "b"}, {"1", "2"}})
	require.NoError(t, err)

	_, err = tbl.Column("yxbx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a, b")
}

func TestSetColumn_LengthMismatch(t *testing.T) {
	tbl, err := fromRecords([][]string{{"a"}, {"1"}, {"2"}})
	require.NoError(t, err)
	assert.Error(t, tbl.SetColumn("p", []string{"1"}))
}

func TestOutputColumn(t *testing.T) {
	assert.Equal(t, "pred_qwen-q4", OutputColumn("pred_", "qwen-q4"))
}
