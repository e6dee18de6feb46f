package configuration

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestDefault(t *testing.T) {

	c := Default()
	AssertEqual(c.HttpAddr, "127.0.0.1:8080")
	AssertEqual(c.Dir, "data")
	AssertFalse(c.AuthEnabled())

	c.JwtSecret = "secret"
	AssertTrue(c.AuthEnabled())
}
