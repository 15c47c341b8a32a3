package sql

import (
	_ "embed"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var defaultSchemaRaw []byte

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectBigQuery Dialect = "bigquery"
)

// Schema describes the tables the model may query
type Schema struct {
	Dialect   Dialect  `yaml:"dialect"`
	Tables    []Table  `yaml:"tables"`
	Relations []string `yaml:"relations"`
}

type Table struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

func DefaultSchema() *Schema {
	s, err := ParseSchema(defaultSchemaRaw)
	if err != nil {
		panic("embedded schema is broken: " + err.Error())
	}
	return s
}

func LoadSchema(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read schema file", goerr.V("path", path))
	}
	return ParseSchema(raw)
}

func ParseSchema(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, goerr.Wrap(err, "invalid schema yaml")
	}
	if len(s.Tables) == 0 {
		return nil, goerr.New("schema has no tables")
	}
	if s.Dialect == "" {
		s.Dialect = DialectPostgres
	}
	if s.Dialect != DialectPostgres && s.Dialect != DialectBigQuery {
		return nil, goerr.New("unsupported dialect", goerr.V("dialect", s.Dialect))
	}
	return &s, nil
}
