package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/iabi/nlq/internal/dataset"
)

// ErrQuery wraps every statement the engine rejects.
var ErrQuery = errors.New("query error")

// Row is one result row; JSON encoding keeps column order.
type Row struct {
	columns []string
	values  []dataset.Value
}

func NewRow(columns []string, values []dataset.Value) Row {
	return Row{columns: columns, values: values}
}

func (r Row) Columns() []string        { return r.columns }
func (r Row) Values() []dataset.Value { return r.values }

func (r Row) Get(column string) (dataset.Value, bool) {
	for i, name := range r.columns {
		if name == column && i < len(r.values) {
			return r.values[i], true
		}
	}
	return dataset.Null(), false
}

func (r Row) Equal(other Row) bool {
	if len(r.columns) != len(other.columns) || len(r.values) != len(other.values) {
		return false
	}
	for i := range r.columns {
		if r.columns[i] != other.columns[i] {
			return false
		}
	}
	for i := range r.values {
		if !r.values[i].Equal(other.values[i]) {
			return false
		}
	}
	return true
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value := dataset.Null()
		if i < len(r.values) {
			value = r.values[i]
		}
		encoded, err := value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Result struct {
	Columns  []string
	Rows     []Row
	Duration time.Duration
}

type Store interface {
	Execute(ctx context.Context, statement string) (Result, error)
}
