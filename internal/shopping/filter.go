package shopping

import (
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Laboratorynotices/listsmart/internal/errs"
)

// filterEnv declares the variables a filter expression can use.
var filterEnv = map[string]any{
	"id":        "",
	"name":      "",
	"quantity":  float64(0),
	"completed": false,
	"category":  "",
	"notes":     "",
	"createdAt": time.Time{},
}

// CompileFilter compiles a boolean item predicate such as
// `quantity > 1 && !completed` or `category == "Другое"`.
func CompileFilter(expression string) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errs.New(errs.InvalidArgument, "filter expression is required")
	}
	program, err := expr.Compile(expression, expr.Env(filterEnv), expr.AsBool())
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid filter expression", err)
	}
	return program, nil
}

func itemEnv(it Item) map[string]any {
	return map[string]any{
		"id":        it.ID,
		"name":      it.Name,
		"quantity":  it.Quantity,
		"completed": it.Completed,
		"category":  it.Category,
		"notes":     it.Notes,
		"createdAt": it.CreatedAt,
	}
}

// MatchItems returns the items for which program is true.
func MatchItems(program *vm.Program, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		result, err := expr.Run(program, itemEnv(it))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "filter failed", err)
		}
		if ok, _ := result.(bool); ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// Filter returns the items matching expression. It is a pure view and
// does not touch Error.
func (s *Store) Filter(expression string) ([]Item, error) {
	program, err := CompileFilter(expression)
	if err != nil {
		return nil, err
	}
	return MatchItems(program, s.Items())
}
