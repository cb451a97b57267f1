package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deftorch/deftheim/logger"
	"github.com/deftorch/deftheim/resolver"
	"github.com/deftorch/deftheim/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// depsCmd represents the deps command
var depsCmd = &cobra.Command{
	Use:   "deps <Owner-Name-Version>",
	Short: "Shows the resolved dependency closure of a package",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configDir, nil)
		defer a.close()

		plan, err := a.manager.Plan(args[0])
		if err != nil {
			logger.Log.Fatalw("Failed to resolve dependencies", zap.String("id", args[0]), zap.Error(err))
		}
		fmt.Print(renderPlan(plan))
	},
}

func init() {
	rootCmd.AddCommand(depsCmd)
}

// renderPlan prints the closure as a tree from the root, followed by the
// dependencies-first install order.
func renderPlan(plan *resolver.Plan) string {
	children := make(map[string][]string)
	for _, e := range plan.Edges {
		children[e.From] = append(children[e.From], e.To)
	}
	missing := make(map[string]bool, len(plan.Missing))
	for _, m := range plan.Missing {
		missing[m.ID] = true
	}

	var b strings.Builder
	printed := make(map[string]bool)
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		indent := strings.Repeat("  ", depth)
		switch {
		case missing[id]:
			fmt.Fprintf(&b, "%s%s %s\n", indent, id, ui.Warning("(not in cache)"))
			return
		case printed[id]:
			fmt.Fprintf(&b, "%s%s (see above)\n", indent, id)
			return
		}
		printed[id] = true
		fmt.Fprintf(&b, "%s%s\n", indent, id)
		for _, child := range children[id] {
			walk(child, depth+1)
		}
	}
	walk(plan.Root().ID, 0)

	b.WriteString("\nInstall order:\n")
	for i, e := range plan.InstallOrder() {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, e.ID)
	}

	if len(plan.Missing) > 0 {
		ids := make([]string, 0, len(plan.Missing))
		for _, m := range plan.Missing {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "\n%s %s\n", ui.Warning("Missing from cache:"), strings.Join(ids, ", "))
	}
	return b.String()
}
