package service

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fulldump/apitest"
	log "github.com/sirupsen/logrus"
)

// Save renders an acceptance request and its response as a markdown example.
// Nothing is written unless API_EXAMPLES_PATH is set.
func Save(response *apitest.Response, title, description string) {

	dir := os.Getenv("API_EXAMPLES_PATH")
	if dir == "" {
		return
	}

	request := response.Request
	query := ""
	if request.URL.RawQuery != "" {
		query = "?" + request.URL.RawQuery
	}
	requestBody := indentJSON(response.BodyRequestString())

	md := &strings.Builder{}
	md.WriteString("# " + title + "\n")
	md.WriteString(dedent(description) + "\n")

	md.WriteString("Curl example:\n\n```sh\ncurl ")
	if request.Method != http.MethodGet {
		md.WriteString("-X " + request.Method + " ")
	}
	md.WriteString(`"https://example.com` + request.URL.Path + query + `"`)
	eachHeader(request.Header, func(k, v string) {
		md.WriteString(" \\\n-H \"" + k + ": " + v + "\"")
	})
	if requestBody != "" {
		md.WriteString(" \\\n-d '" + requestBody + "'")
	}
	md.WriteString("\n```\n\n\n")

	md.WriteString("HTTP request/response example:\n\n```http\n")
	md.WriteString(request.Method + " " + request.URL.Path + query + " " + request.Proto + "\n")
	md.WriteString("Host: example.com\n")
	eachHeader(request.Header, func(k, v string) {
		md.WriteString(k + ": " + v + "\n")
	})
	md.WriteString("\n" + requestBody + "\n\n")

	md.WriteString(response.Proto + " " + response.Status + "\n")
	eachHeader(response.Header, func(k, v string) {
		if k == "Date" {
			v = "Mon, 15 Aug 2022 02:08:13 GMT"
		}
		md.WriteString(k + ": " + v + "\n")
	})
	md.WriteString("\n" + indentJSON(response.BodyString()) + "\n```\n\n\n")

	filename := strings.ReplaceAll(strings.ToLower(title), " ", "_") + ".md"
	p := filepath.Join(dir, filepath.Clean(filename))
	if err := os.WriteFile(p, []byte(md.String()), 0666); err != nil {
		log.WithError(err).WithField("file", p).Warn("save api example")
	}
}

// eachHeader visits headers sorted by name.
func eachHeader(h http.Header, f func(k, v string)) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			f(k, v)
		}
	}
}

func indentJSON(body string) string {
	var i interface{}
	if err := json.Unmarshal([]byte(body), &i); err != nil {
		return body
	}
	b, err := json.MarshalIndent(i, "", "    ")
	if err != nil {
		return body
	}
	return string(b)
}

// dedent removes the tabs shared by every non blank line.
func dedent(d string) string {
	lines := strings.Split(d, "\n")

	common := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, "\t"))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= 0 {
		return strings.TrimSpace(d)
	}

	prefix := strings.Repeat("\t", common)
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
