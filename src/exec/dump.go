package exec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anvilbuild/anvil/src/core"
)

// Dump renders the current target graph as one line per target: its key, current
// state, and whether it has a bound recipe. Supplements the distilled design with the
// original's `verb >= 5` graph dump points (see build/dump.cxx): cmd/anvil calls this
// once, after the execute phase, under --dump or at verbosity 5 and above.
func Dump(ctx *core.BuildContext, action core.Action) string {
	var lines []string
	ctx.Targets.Range(func(t *core.Target) {
		recipe := "unbound"
		if t.Recipe(action) != nil {
			recipe = "bound"
		}
		lines = append(lines, fmt.Sprintf("%s\tstate=%s\trecipe=%s\tprereqs=%d",
			t.String(), t.State.Load(), recipe, len(t.PrerequisiteTargets)))
	})
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
