package engine

import (
	"strings"

	"github.com/justakazh/ewe/internal/types"
)

// Placeholder tokens recognized in command templates.
const (
	TokenTarget       = "{target}"
	TokenName         = "{name}"
	TokenResult       = "{result}"
	TokenOutputPath   = "{output_path}"
	TokenParentName   = "{parent_name}"
	TokenParentResult = "{parent_result}"
)

// Materialize expands the placeholder tokens of a task's command template.
// Replacement is single-pass: text produced by a substitution is never
// expanded again, and unknown tokens are left as they are. parent is nil for
// root tasks, in which case the parent tokens expand to the empty string.
func Materialize(task, parent *types.Task, ctx Context) string {
	parentName, parentResult := "", ""
	if parent != nil {
		parentName = parent.Name
		parentResult = parent.ResultPath(ctx.OutputDir)
	}

	r := strings.NewReplacer(
		TokenTarget, ctx.Target,
		TokenName, task.Name,
		TokenResult, task.ResultPath(ctx.OutputDir),
		TokenOutputPath, ctx.OutputDir,
		TokenParentName, parentName,
		TokenParentResult, parentResult,
	)
	return r.Replace(task.Command)
}
