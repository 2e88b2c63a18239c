package dataset

// ExampleMaxRunes bounds example values placed in prompts.
const ExampleMaxRunes = 50

type ColumnDescriptor struct {
	Name      string  `json:"column"`
	Type      string  `json:"type"`
	NullCount int     `json:"null_count"`
	Example   *string `json:"example"`
}

// Profile describes every column of t in column order.
func Profile(t *Table) []ColumnDescriptor {
	if t == nil {
		return nil
	}
	descriptors := make([]ColumnDescriptor, 0, len(t.Columns))
	for i, column := range t.Columns {
		descriptor := ColumnDescriptor{Name: column.Name, Type: column.Type}
		for _, row := range t.Rows {
			if i >= len(row) || row[i].IsNull() {
				descriptor.NullCount++
				continue
			}
			if descriptor.Example == nil {
				example := truncateRunes(row[i].String(), ExampleMaxRunes)
				descriptor.Example = &example
			}
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
