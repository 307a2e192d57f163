package loop

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/zakelfassi/Ralph-Kit/internal/router"
)

// PromptContext carries everything a single iteration's prompt embeds.
type PromptContext struct {
	// Iteration is the current iteration number (1-indexed).
	Iteration int

	// PlanDoc is the plan document's repo-relative name.
	PlanDoc string

	// PendingItems are the plan's unchecked entries.
	PendingItems []string

	// Notes are free-form observations from earlier iterations of this
	// run, newest last.
	Notes []string
}

// PromptBuilder constructs per-task prompts for backend invocations.
type PromptBuilder struct {
	tmpls map[router.TaskType]*template.Template
}

// NewPromptBuilder creates a builder with the default templates.
func NewPromptBuilder() *PromptBuilder {
	pb := &PromptBuilder{tmpls: make(map[router.TaskType]*template.Template)}
	for task, text := range map[router.TaskType]string{
		router.TaskPlan:     planTemplate,
		router.TaskPlanWork: planWorkTemplate,
		router.TaskBuild:    buildTemplate,
		router.TaskReview:   reviewTemplate,
		router.TaskSecurity: securityTemplate,
	} {
		pb.tmpls[task] = template.Must(template.New(string(task)).Parse(text))
	}
	return pb
}

// Build generates the prompt for one task-type and iteration context.
func (pb *PromptBuilder) Build(task router.TaskType, ctx PromptContext) string {
	tmpl, ok := pb.tmpls[task]
	if !ok {
		tmpl = pb.tmpls[router.TaskBuild]
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, ctx); err != nil {
		// Templates are static and parse at construction; execution
		// cannot fail with this data shape.
		return fmt.Sprintf("Error generating prompt: %v", err)
	}
	return buf.String()
}

const planTemplate = `# Planning

Create or replace the task plan in {{.PlanDoc}}.

Study the repository, then write a markdown task list of concrete,
independently completable work items. Use "- [ ]" checkboxes. Order
items so each builds on the previous ones. Do not start implementing.
`

const planWorkTemplate = `# Plan Refinement (iteration {{.Iteration}})

Review {{.PlanDoc}} against the current state of the repository.
{{if .PendingItems}}
Currently pending:
{{range .PendingItems}}- {{.}}
{{end}}{{end}}
Split items that turned out too large, drop items that are already
done or obsolete, and add newly discovered work. Keep the "- [ ]"
checkbox format. Do not start implementing.
`

const buildTemplate = `# Build Iteration {{.Iteration}}
{{if .Notes}}
## Notes from earlier iterations

{{range .Notes}}- {{.}}
{{end}}{{end}}
## Pending work ({{.PlanDoc}})
{{if .PendingItems}}
{{range .PendingItems}}- [ ] {{.}}
{{end}}{{else}}
(no pending items)
{{end}}
Pick the FIRST pending item and complete it fully: implement, test,
and commit. When it is done, check it off in {{.PlanDoc}} ("- [x]")
and commit that too. Work on exactly one item this iteration.

If you are blocked on a decision only a human can make, append a
question to QUESTIONS.md under a new "## Q-<n>" heading with the line
"Status: awaiting response", and move on to the next item if possible.
`

const reviewTemplate = `# Review Pass (iteration {{.Iteration}})

Review the most recent commits for correctness, missing tests, and
regressions. Respond with a JSON object:

  {"findings": [{"severity": "high|medium|low", "file": "...", "note": "..."}]}

An empty findings array means the changes look good. Fix anything
severe enough to break the build before responding.
`

const securityTemplate = `# Security Pass (iteration {{.Iteration}})

Audit the most recent commits for security problems: injected input
reaching a shell or query, secrets in code or logs, unsafe file modes,
missing validation on external data. Respond with a JSON object:

  {"findings": [{"severity": "high|medium|low", "file": "...", "note": "..."}]}

An empty findings array means no issues found.
`
