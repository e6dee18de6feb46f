package utils

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestGetKeys(t *testing.T) {

	AssertEqual(GetKeys(map[string]int{"b": 2, "a": 1, "c": 3}), []string{"a", "b", "c"})
	AssertEqual(GetKeys(map[string]bool{}), []string{})
}

func TestRemarshal(t *testing.T) {

	output := map[string]any{}
	err := Remarshal(map[string]any{"age": int64(30), "tags": []string{"a"}}, &output)
	AssertNil(err)
	AssertEqual(output, map[string]any{"age": 30.0, "tags": []any{"a"}})

	err = Remarshal(map[string]any{"ch": make(chan int)}, &output)
	AssertNotNil(err)
}
