package service

import (
	"net/http"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
)

type JSON = map[string]interface{}

const peopleSchema = `
tables:
  - name: Person
    columns:
      - {name: name, type: string, indexed: true}
      - {name: age, type: int}
      - {name: email, type: string, nullable: true}
`

// Acceptance walks the HTTP API. apiRequest must build requests against a
// fresh, empty database every time the tree is replayed.
func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	a.Alternative("Create group", func(a *biff.A) {
		resp := apiRequest("POST", "/groups").
			WithBodyJson(JSON{
				"name":           "app",
				"schema_version": 1,
			}).Do()
		Save(resp, "Create group", `
			Creates an empty group file in the data directory.
		`)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		biff.AssertEqualJson(resp.BodyJson(), JSON{
			"name":           "app",
			"version":        1,
			"schema_version": 1,
			"state":          "idle",
			"tables":         []string{},
		})

		a.Alternative("Create group twice", func(a *biff.A) {
			resp := apiRequest("POST", "/groups").
				WithBodyJson(JSON{"name": "app"}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})

		a.Alternative("List groups", func(a *biff.A) {
			resp := apiRequest("GET", "/groups").Do()
			Save(resp, "List groups", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []JSON{
				{
					"name":           "app",
					"version":        1,
					"schema_version": 1,
					"state":          "idle",
					"tables":         []string{},
				},
			})
		})

		a.Alternative("Drop group", func(a *biff.A) {
			resp := apiRequest("POST", "/groups/app:dropGroup").Do()
			Save(resp, "Drop group", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)

			a.Alternative("Get dropped group", func(a *biff.A) {
				resp := apiRequest("GET", "/groups/app").Do()
				Save(resp, "Get group - not found", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})
		})

		a.Alternative("Apply schema", func(a *biff.A) {
			resp := apiRequest("POST", "/groups/app:applySchema").
				WithBodyString(peopleSchema).Do()
			Save(resp, "Apply schema", `
				Creates the tables of a YAML descriptor that do not exist yet.
			`)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"name":           "app",
				"version":        2,
				"schema_version": 1,
				"state":          "idle",
				"tables":         []string{"Person"},
			})

			a.Alternative("Apply the same schema again", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app:applySchema").
					WithBodyString(peopleSchema).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqual(resp.BodyJson().(JSON)["version"], 2.0)
			})

			a.Alternative("Get table", func(a *biff.A) {
				resp := apiRequest("GET", "/groups/app/tables/Person").Do()
				Save(resp, "Get table", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{
					"name": "Person",
					"columns": []JSON{
						{"name": "name", "type": "string", "indexed": true},
						{"name": "age", "type": "int"},
						{"name": "email", "type": "string", "nullable": true},
					},
					"size": 0,
				})
			})

			a.Alternative("Insert and find", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Person:insert").
					WithBodyJson([]JSON{
						{"name": "Ann", "age": 30},
						{"name": "Bob", "age": 17, "email": "bob@example.com"},
					}).Do()
				Save(resp, "Insert rows", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusCreated)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"keys": []int{1, 2}})

				a.Alternative("Find with filter", func(a *biff.A) {
					resp := apiRequest("POST", "/groups/app/tables/Person:find").
						WithBodyJson(JSON{
							"filter": JSON{"age": JSON{"$gt": 20}},
						}).Do()
					Save(resp, "Find rows", ``)

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqualJson(resp.BodyJson(), []JSON{
						{"_key": 1, "name": "Ann", "age": 30, "email": nil},
					})
				})

				a.Alternative("Find sorted with limit", func(a *biff.A) {
					resp := apiRequest("POST", "/groups/app/tables/Person:find").
						WithBodyJson(JSON{
							"sort":  []JSON{{"column": "age"}},
							"limit": 1,
						}).Do()

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqualJson(resp.BodyJson(), []JSON{
						{"_key": 2, "name": "Bob", "age": 17, "email": "bob@example.com"},
					})
				})

				a.Alternative("Patch", func(a *biff.A) {
					resp := apiRequest("POST", "/groups/app/tables/Person:patch").
						WithBodyJson(JSON{
							"filter": JSON{"name": "Ann"},
							"patch":  JSON{"age": 31},
						}).Do()
					Save(resp, "Patch rows", ``)

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqualJson(resp.BodyJson(), JSON{"patched": 1})

					resp = apiRequest("POST", "/groups/app/tables/Person:find").
						WithBodyJson(JSON{"filter": JSON{"name": "Ann"}}).Do()
					biff.AssertEqualJson(resp.BodyJson(), []JSON{
						{"_key": 1, "name": "Ann", "age": 31, "email": nil},
					})
				})

				a.Alternative("Remove", func(a *biff.A) {
					resp := apiRequest("POST", "/groups/app/tables/Person:remove").
						WithBodyJson(JSON{
							"filter": JSON{"age": JSON{"$lt": 18}},
						}).Do()
					Save(resp, "Remove rows", ``)

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 1})

					resp = apiRequest("GET", "/groups/app/tables/Person").Do()
					biff.AssertEqual(resp.BodyJson().(JSON)["size"], 1.0)
				})

				a.Alternative("Compact", func(a *biff.A) {
					resp := apiRequest("POST", "/groups/app:compact").Do()
					Save(resp, "Compact group", ``)

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqual(resp.BodyJson().(JSON)["version"], 3.0)
				})
			})

			a.Alternative("Insert a wrong type", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Person:insert").
					WithBodyJson([]JSON{
						{"name": "Ann", "age": "thirty"},
					}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)

				resp = apiRequest("GET", "/groups/app/tables/Person").Do()
				biff.AssertEqual(resp.BodyJson().(JSON)["size"], 0.0)
			})

			a.Alternative("Insert a null into a required column", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Person:insert").
					WithBodyJson([]JSON{
						{"name": nil, "age": 1},
					}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
			})

			a.Alternative("Add and remove a column", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Person:addColumn").
					WithBodyJson(JSON{"name": "nick", "type": "string", "nullable": true}).Do()
				Save(resp, "Add column", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqual(len(resp.BodyJson().(JSON)["columns"].([]interface{})), 4)

				resp = apiRequest("POST", "/groups/app/tables/Person:removeColumn").
					WithBodyJson(JSON{"name": "nick"}).Do()
				Save(resp, "Remove column", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqual(len(resp.BodyJson().(JSON)["columns"].([]interface{})), 3)
			})

			a.Alternative("Drop table", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Person:dropTable").Do()
				Save(resp, "Drop table", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)

				resp = apiRequest("GET", "/groups/app/tables/Person").Do()
				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})
		})

		a.Alternative("Create table", func(a *biff.A) {
			resp := apiRequest("POST", "/groups/app/tables").
				WithBodyJson(JSON{
					"name": "Dog",
					"columns": []JSON{
						{"name": "name", "type": "string"},
						{"name": "born", "type": "timestamp", "nullable": true},
					},
				}).Do()
			Save(resp, "Create table", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusCreated)
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"name": "Dog",
				"columns": []JSON{
					{"name": "name", "type": "string"},
					{"name": "born", "type": "timestamp", "nullable": true},
				},
				"size": 0,
			})

			a.Alternative("List tables", func(a *biff.A) {
				resp := apiRequest("GET", "/groups/app/tables").Do()
				Save(resp, "List tables", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqual(len(resp.BodyJson().([]interface{})), 1)
			})

			a.Alternative("Create a duplicated column", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables").
					WithBodyJson(JSON{
						"name": "Cat",
						"columns": []JSON{
							{"name": "name", "type": "string"},
							{"name": "name", "type": "int"},
						},
					}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
			})

			a.Alternative("Timestamps travel as RFC 3339", func(a *biff.A) {
				resp := apiRequest("POST", "/groups/app/tables/Dog:insert").
					WithBodyJson([]JSON{
						{"name": "Rex", "born": "2020-01-02T03:04:05Z"},
					}).Do()
				biff.AssertEqual(resp.StatusCode, http.StatusCreated)

				resp = apiRequest("POST", "/groups/app/tables/Dog:find").
					WithBodyJson(JSON{}).Do()
				biff.AssertEqualJson(resp.BodyJson(), []JSON{
					{"_key": 1, "name": "Rex", "born": "2020-01-02T03:04:05Z"},
				})
			})
		})

		a.Alternative("Unknown table", func(a *biff.A) {
			resp := apiRequest("GET", "/groups/app/tables/Nope").Do()

			biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		})
	})

	a.Alternative("Unknown group", func(a *biff.A) {
		resp := apiRequest("GET", "/groups/nope/tables").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
	})
}
