package sql

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed policy/sqlguard.rego
var defaultPolicyRaw string

const policyQuery = "data.sqlguard.deny"

// Policy evaluates Rego rules against statements that already passed Sanitize.
// Rules populate the set data.sqlguard.deny with reasons.
type Policy struct {
	query *rego.PreparedEvalQuery
}

// printHook forwards Rego print() output to the request logger
type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Debug("sqlguard", "message", message)
	return nil
}

type policyInput struct {
	Statement string `json:"statement"`
	Question  string `json:"question"`
	Dialect   string `json:"dialect"`
}

// DefaultPolicy prepares the embedded rules
func DefaultPolicy(ctx context.Context) (*Policy, error) {
	return newPolicy(ctx, rego.Module("sqlguard.rego", defaultPolicyRaw))
}

// LoadPolicy prepares every .rego file in dir. An empty dir yields nil and no error.
func LoadPolicy(ctx context.Context, dir string) (*Policy, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return newPolicy(ctx, modules...)
}

func newPolicy(ctx context.Context, modules ...func(*rego.Rego)) (*Policy, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(policyQuery), rego.EnablePrintStatements(true))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("query", policyQuery))
	}
	return &Policy{query: &prepared}, nil
}

// Check returns an error wrapping model.ErrSanitization when any rule denies the statement.
// A rule that fails to evaluate denies it as well.
func (p *Policy) Check(ctx context.Context, statement, question string, dialect Dialect) error {
	if p == nil {
		return nil
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(policyInput{
		Statement: statement,
		Question:  question,
		Dialect:   string(dialect),
	}), rego.EvalPrintHook(&printHook{logger: logging.From(ctx)}))
	if err != nil {
		return goerr.Wrap(model.ErrSanitization, "failed to evaluate policy",
			goerr.V("cause", err.Error()),
			goerr.V("statement", statement))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	reasons, ok := rs[0].Expressions[0].Value.([]any)
	if !ok || len(reasons) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(reasons))
	for _, r := range reasons {
		msgs = append(msgs, fmt.Sprint(r))
	}
	return goerr.Wrap(model.ErrSanitization, "statement denied by policy",
		goerr.V("reasons", msgs),
		goerr.V("statement", statement))
}
