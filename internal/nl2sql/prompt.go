package nl2sql

import (
	"encoding/json"
	"strings"

	"github.com/iabi/nlq/internal/dataset"
)

type promptColumn struct {
	Column  string `json:"column"`
	Type    string `json:"type"`
	Example string `json:"example"`
}

// BuildPrompt renders the Llama-3 chat prompt asking for one DuckDB SELECT over table.
// The output depends only on its arguments.
func BuildPrompt(question string, columns []dataset.ColumnDescriptor, table string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n")
	b.WriteString("You are an expert SQL data analyst for DuckDB.\n")
	b.WriteString("Output exactly one DuckDB SELECT statement and nothing else. Do not explain.\n")
	b.WriteString("Use only the columns listed in the schema. Never invent columns.\n")
	b.WriteString("Table name: " + table + "\n")
	b.WriteString("Schema: " + schemaJSON(columns) + "\n")
	b.WriteString("<|eot_id|><|start_header_id|>user<|end_header_id|>\n")
	b.WriteString("Create a SQL query for: " + strings.TrimSpace(question) + "\n")
	b.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n")
	return b.String()
}

// BuildCorrectionPrompt asks the model to rewrite a rejected statement as a single read-only SELECT.
func BuildCorrectionPrompt(statement string, columns []dataset.ColumnDescriptor, table string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n")
	b.WriteString("You are an expert SQL data analyst for DuckDB.\n")
	b.WriteString("The statement below was rejected because it is not a single read-only SELECT.\n")
	b.WriteString("Rewrite it as exactly one DuckDB SELECT statement. Do not modify data. Do not explain.\n")
	b.WriteString("Use only the columns listed in the schema. Never invent columns.\n")
	b.WriteString("Table name: " + table + "\n")
	b.WriteString("Schema: " + schemaJSON(columns) + "\n")
	b.WriteString("<|eot_id|><|start_header_id|>user<|end_header_id|>\n")
	b.WriteString("Rejected statement: " + strings.TrimSpace(statement) + "\n")
	b.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n")
	return b.String()
}

func schemaJSON(columns []dataset.ColumnDescriptor) string {
	compact := make([]promptColumn, 0, len(columns))
	for _, column := range columns {
		entry := promptColumn{Column: column.Name, Type: column.Type}
		if column.Example != nil {
			entry.Example = *column.Example
		}
		compact = append(compact, entry)
	}
	encoded, err := json.Marshal(compact)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
