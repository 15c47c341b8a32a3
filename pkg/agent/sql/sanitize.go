package sql

import (
	"regexp"
	"strings"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	readOnlyPrefix   = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	forbiddenKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|GRANT|REVOKE|CREATE|EXEC)\b`)
	codeFence        = regexp.MustCompile("```[a-zA-Z]*")
)

// stripFences removes markdown code fences the model tends to add
func stripFences(text string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(text, ""))
}

// Sanitize is the read-only gate. It returns the statement ready to run, without a trailing
// semicolon, or an error wrapping model.ErrSanitization. Keywords inside string literals are
// rejected as well.
func Sanitize(statement string) (string, error) {
	stmt := strings.TrimSpace(statement)
	if stmt == "" {
		return "", goerr.Wrap(model.ErrSanitization, "empty statement")
	}

	if !readOnlyPrefix.MatchString(stmt) {
		return "", goerr.Wrap(model.ErrSanitization, "only SELECT or WITH statements are allowed",
			goerr.V("statement", stmt))
	}

	if kw := forbiddenKeyword.FindString(stmt); kw != "" {
		return "", goerr.Wrap(model.ErrSanitization, "forbidden keyword",
			goerr.V("keyword", strings.ToUpper(kw)),
			goerr.V("statement", stmt))
	}

	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if strings.Contains(stmt, ";") {
		return "", goerr.Wrap(model.ErrSanitization, "multiple statements are not allowed",
			goerr.V("statement", stmt))
	}

	return stmt, nil
}
