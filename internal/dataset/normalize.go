package dataset

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

const (
	// UnnamedPlaceholder marks source columns without a header.
	UnnamedPlaceholder = "unnamed"
	// EmptyNamePlaceholder replaces names that normalize to nothing.
	EmptyNamePlaceholder = "coluna_sem_nome"
	digitPrefix          = "col_"
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnders   = regexp.MustCompile(`_+`)
	validNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// NormalizeName maps a raw column header onto the [a-z0-9_] identifier alphabet.
func NormalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(transliterate(raw)))
	name = invalidNameChars.ReplaceAllString(name, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	if name == "" {
		return EmptyNamePlaceholder
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = digitPrefix + name
	}
	return name
}

// IsValidName reports whether name already satisfies the identifier rules.
func IsValidName(name string) bool {
	return validNamePattern.MatchString(name)
}

// transliterate folds compatibility forms (ligatures, full-width letters) with
// NFKC and then maps every rune to its closest ASCII spelling.
func transliterate(value string) string {
	return unidecode.Unidecode(norm.NFKC.String(value))
}

// normalizeColumns renames columns in place, drops unnamed ones and returns the
// indexes of the surviving source columns.
func normalizeColumns(columns []Column) ([]Column, []int) {
	kept := make([]Column, 0, len(columns))
	indexes := make([]int, 0, len(columns))
	used := map[string]bool{}
	for i, column := range columns {
		name := NormalizeName(column.Source)
		if strings.Contains(name, UnnamedPlaceholder) {
			continue
		}
		base := name
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		column.Name = name
		kept = append(kept, column)
		indexes = append(indexes, i)
	}
	return kept, indexes
}
