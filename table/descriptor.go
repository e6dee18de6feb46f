package table

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fulldump/tightdb/dberr"
)

type columnDescriptor struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Indexed  bool   `yaml:"indexed"`
}

type tableDescriptor struct {
	Name    string             `yaml:"name"`
	Columns []columnDescriptor `yaml:"columns"`
}

// ParseSchemaYAML reads table descriptors like:
//
//	tables:
//	  - name: Person
//	    columns:
//	      - {name: name, type: string, indexed: true}
//	      - {name: age, type: int, nullable: true}
//
// Tables keep the order of the file.
func ParseSchemaYAML(data []byte) ([]string, map[string]Schema, error) {

	document := struct {
		Tables []tableDescriptor `yaml:"tables"`
	}{}
	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse descriptor: %s", dberr.ErrorSchema, err.Error())
	}

	names := []string{}
	schemas := map[string]Schema{}
	for _, t := range document.Tables {
		if t.Name == "" {
			return nil, nil, fmt.Errorf("%w: table without name", dberr.ErrorSchema)
		}
		if _, exists := schemas[t.Name]; exists {
			return nil, nil, fmt.Errorf("%w: table '%s' declared twice", dberr.ErrorSchema, t.Name)
		}

		schema := Schema{}
		for _, c := range t.Columns {
			columnType, err := ParseColumnType(c.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("table '%s' column '%s': %w", t.Name, c.Name, err)
			}
			schema = append(schema, Column{
				Name:     c.Name,
				Type:     columnType,
				Nullable: c.Nullable,
				Indexed:  c.Indexed,
			})
		}
		if err := schema.Validate(); err != nil {
			return nil, nil, fmt.Errorf("table '%s': %w", t.Name, err)
		}

		names = append(names, t.Name)
		schemas[t.Name] = schema
	}

	return names, schemas, nil
}
