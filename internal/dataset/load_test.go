package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

func TestLoadXLSXNormalizesAndInfersTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendas.xlsx")
	writeWorkbook(t, path, [][]any{
		{"ID", "Nome Cliente", "", "Preço (R$)", "Ativo"},
		{1, "Ana", "x", 10.5, true},
		{2, "", "y", 20, false},
		{3, "Caio", "z", nil, true},
	})

	table, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	names := table.ColumnNames()
	want := []string{"id", "nome_cliente", "preco_r_", "ativo"}
	if len(names) != len(want) {
		t.Fatalf("columns = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("columns = %v, want %v", names, want)
		}
	}
	if table.RowCount() != 3 {
		t.Fatalf("RowCount() = %d", table.RowCount())
	}
	if table.Columns[0].Kind != KindInt || table.Columns[0].Type != "BIGINT" {
		t.Fatalf("id column = %+v", table.Columns[0])
	}
	if table.Columns[2].Kind != KindFloat {
		t.Fatalf("price column = %+v", table.Columns[2])
	}
	if table.Columns[3].Kind != KindBool {
		t.Fatalf("ativo column = %+v", table.Columns[3])
	}
	if !table.Rows[1][1].IsNull() {
		t.Fatalf("empty cell = %#v, want null", table.Rows[1][1])
	}
	if got := table.Rows[0][2]; !got.Equal(FloatValue(10.5)) {
		t.Fatalf("price[0] = %#v", got)
	}
}

func TestLoadXLSXReadsStyledDatesAndNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pedidos.xlsx")
	workbook := excelize.NewFile()
	defer func() { _ = workbook.Close() }()

	rows := [][]any{
		{"Data", "Valor", "Emissão", "Total", "Ativo"},
		{time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 1234.5, 45356, 99.9, true},
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 10, 45383, 1500, false},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := row
		if err := workbook.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	dayFirst := "dd/mm/yyyy"
	reais := `"R$" #,##0.00`
	styles := map[string]*excelize.Style{
		"B": {NumFmt: 4},
		"C": {CustomNumFmt: &dayFirst},
		"D": {CustomNumFmt: &reais},
	}
	for col, style := range styles {
		id, err := workbook.NewStyle(style)
		if err != nil {
			t.Fatalf("NewStyle() error = %v", err)
		}
		if err := workbook.SetCellStyle("Sheet1", col+"2", col+"3", id); err != nil {
			t.Fatalf("SetCellStyle() error = %v", err)
		}
	}
	if err := workbook.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}

	table, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wantKinds := []Kind{KindTime, KindFloat, KindTime, KindFloat, KindBool}
	for i, want := range wantKinds {
		if table.Columns[i].Kind != want {
			t.Fatalf("column %s kind = %v, want %v", table.Columns[i].Name, table.Columns[i].Kind, want)
		}
	}
	if got := table.Rows[0][0]; !got.Equal(TimeValue(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))) {
		t.Fatalf("data[0] = %v", got)
	}
	if got := table.Rows[0][1]; !got.Equal(FloatValue(1234.5)) {
		t.Fatalf("valor[0] = %v", got)
	}
	if got := table.Rows[1][2]; !got.Equal(TimeValue(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))) {
		t.Fatalf("emissao[1] = %v", got)
	}
	if got := table.Rows[1][3]; !got.Equal(FloatValue(1500)) {
		t.Fatalf("total[1] = %v", got)
	}
}

func TestIsDateFormatCode(t *testing.T) {
	cases := map[string]bool{
		"dd/mm/yyyy":         true,
		"[$-416]mmm/yy":      true,
		"hh:mm:ss":           true,
		"#,##0.00":           false,
		`"R$" #,##0.00`:      false,
		"[Red]#,##0;-#,##0":  false,
		`0.00\d`:             false,
		"General":            false,
		`"dias" 0`:           false,
		"[$R$-416] #,##0.00": false,
	}
	for code, want := range cases {
		if got := isDateFormatCode(code); got != want {
			t.Fatalf("isDateFormatCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestLoadCSVThroughDuckDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clientes.csv")
	if err := os.WriteFile(path, []byte("ID,Nome Completo\n1,Ana\n2,Bruno\n"), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	table, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := table.ColumnNames(); len(got) != 2 || got[0] != "id" || got[1] != "nome_completo" {
		t.Fatalf("columns = %v", got)
	}
	if table.Columns[0].Kind != KindInt {
		t.Fatalf("id kind = %v (type %q)", table.Columns[0].Kind, table.Columns[0].Type)
	}
	if table.RowCount() != 2 {
		t.Fatalf("RowCount() = %d", table.RowCount())
	}
	if got := table.Rows[1][1]; !got.Equal(StringValue("Bruno")) {
		t.Fatalf("row[1].nome = %#v", got)
	}
}

type parquetRow struct {
	Codigo int64  `parquet:"Codigo"`
	Cidade string `parquet:"Cidade"`
}

func TestLoadParquetThroughDuckDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cidades.parquet")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create parquet: %v", err)
	}
	writer := parquet.NewGenericWriter[parquetRow](file)
	if _, err := writer.Write([]parquetRow{{Codigo: 10, Cidade: "Recife"}, {Codigo: 20, Cidade: "Natal"}}); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	table, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := table.ColumnNames(); len(got) != 2 || got[0] != "codigo" || got[1] != "cidade" {
		t.Fatalf("columns = %v", got)
	}
	if got := table.Rows[0][0]; !got.Equal(IntValue(10)) {
		t.Fatalf("codigo[0] = %#v", got)
	}
}

func TestLoadMissingFileIsDataSourceError(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"))
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("Load() error = %v, want ErrDataSource", err)
	}
}

func TestLoadUnsupportedExtensionIsDataSourceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := Load(context.Background(), path)
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("Load() error = %v, want ErrDataSource", err)
	}
}

func TestLoadCorruptWorkbookIsDataSourceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := Load(context.Background(), path)
	if !errors.Is(err, ErrDataSource) {
		t.Fatalf("Load() error = %v, want ErrDataSource", err)
	}
}

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	workbook := excelize.NewFile()
	defer func() { _ = workbook.Close() }()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		values := row
		if err := workbook.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	if err := workbook.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
}
