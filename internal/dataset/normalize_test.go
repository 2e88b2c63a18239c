package dataset

import (
	"regexp"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Nome Cliente":     "nome_cliente",
		"  Preço (R$) ":    "preco_r_",
		"Ação--Única":      "acao_unica",
		"2023 Vendas":      "col_2023_vendas",
		"":                 EmptyNamePlaceholder,
		"   ":              EmptyNamePlaceholder,
		"a__b___c":         "a_b_c",
		"ALREADY_ok_1":     "already_ok_1",
		"Unnamed: 3":       "unnamed_3",
		"Código do Pedido": "codigo_do_pedido",
		"Straße":           "strasse",
		"Ørsted Øre":       "orsted_ore",
		"Æon":              "aeon",
		"Москва":           "moskva",
		"ﬁnal":             "final",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeNameIsIdempotentAndValid(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z0-9_]+$`)
	inputs := []string{"Nome", "9lives", "Preço Médio (R$)", "", "__x__", "日本語", "Ünïcödé Çolumn", "1"}
	for _, input := range inputs {
		once := NormalizeName(input)
		if !pattern.MatchString(once) {
			t.Fatalf("NormalizeName(%q) = %q has invalid characters", input, once)
		}
		if once[0] >= '0' && once[0] <= '9' {
			t.Fatalf("NormalizeName(%q) = %q starts with a digit", input, once)
		}
		if twice := NormalizeName(once); twice != once {
			t.Fatalf("NormalizeName not idempotent: %q -> %q -> %q", input, once, twice)
		}
		if !IsValidName(once) {
			t.Fatalf("IsValidName(%q) = false", once)
		}
	}
}

func TestNormalizeColumnsDropsUnnamedAndDeduplicates(t *testing.T) {
	columns, indexes := normalizeColumns([]Column{
		{Source: "Nome"},
		{Source: "Unnamed: 1"},
		{Source: "nome"},
		{Source: "NOME"},
		{Source: "nome_2"},
	})
	got := make([]string, 0, len(columns))
	for _, column := range columns {
		got = append(got, column.Name)
	}
	want := []string{"nome", "nome_2", "nome_3", "nome_2_2"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
	if len(indexes) != 4 || indexes[0] != 0 || indexes[1] != 2 || indexes[3] != 4 {
		t.Fatalf("indexes = %v", indexes)
	}
}
