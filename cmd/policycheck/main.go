// Command policycheck validates policy files the way the server loads them
// and prints what each one grants.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"keeper/internal/classification"
	policyconfig "keeper/internal/policy/config"
	"keeper/internal/policy/models"
	"keeper/internal/policy/predicates"
	"keeper/pkg/domain"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("policycheck", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	quiet := flags.BoolP("quiet", "q", false, "only report problems")
	list := flags.BoolP("list", "l", false, "print the predicates and guard conditions policies may name")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: policycheck [--quiet] FILE...\n       policycheck --list")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *list {
		printVocabulary(stdout)
		if flags.NArg() == 0 {
			return 0
		}
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	status := 0
	for _, path := range flags.Args() {
		model, err := policyconfig.Load(path)
		if err != nil {
			status = 1
			reportError(stderr, path, err)
			continue
		}
		if !*quiet {
			summarize(stdout, path, model)
		}
	}
	return status
}

func reportError(w io.Writer, path string, err error) {
	var ce *policyconfig.ConfigurationError
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "%s: %d problem(s)\n", path, len(ce.Problems))
		var unknownPredicate, unknownCondition bool
		for _, p := range ce.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
			unknownPredicate = unknownPredicate || strings.Contains(p, "unknown predicate")
			unknownCondition = unknownCondition || strings.Contains(p, "unknown condition")
		}
		if unknownPredicate {
			fmt.Fprintf(w, "  predicates: %s\n", strings.Join(predicates.PredicateNames(), ", "))
		}
		if unknownCondition {
			fmt.Fprintf(w, "  conditions: %s\n", strings.Join(predicates.ConditionNames(), ", "))
		}
		return
	}
	fmt.Fprintf(w, "%s: %v\n", path, err)
}

func printVocabulary(w io.Writer) {
	fmt.Fprintf(w, "predicates: %s\n", strings.Join(predicates.PredicateNames(), ", "))
	fmt.Fprintf(w, "conditions: %s\n", strings.Join(predicates.ConditionNames(), ", "))
}

func summarize(w io.Writer, path string, model *models.Model) {
	fmt.Fprintf(w, "%s: ok\n", path)
	for _, name := range model.EntityTypeNames() {
		et, _ := model.EntityType(name)
		fmt.Fprintf(w, "%s\n", name)
		fmt.Fprintf(w, "  fields: %s\n", fieldSummary(et.Fields))
		for _, g := range et.Grants {
			line := fmt.Sprintf("  grant %s: %s", g.Role, operationList(g))
			if g.Predicate != nil {
				line += " when " + g.Predicate.Name()
			}
			fmt.Fprintln(w, line)
		}
		for _, guard := range et.Guards {
			fmt.Fprintf(w, "  guard %s %s: requires %s\n", guard.Operation, guard.Condition.Name(), guard.RequiredRole)
		}
	}
}

func fieldSummary(fields []models.FieldSpec) string {
	counts := map[classification.Classification]int{}
	for _, f := range fields {
		counts[f.Classification]++
	}
	parts := make([]string, 0, 3)
	for _, c := range []classification.Classification{classification.Public, classification.Personal, classification.Sensitive} {
		parts = append(parts, fmt.Sprintf("%d %s", counts[c], c))
	}
	return strings.Join(parts, ", ")
}

func operationList(g models.Grant) string {
	var ops []string
	for _, op := range domain.AllOperations() {
		if g.Allows(op) {
			ops = append(ops, op.String())
		}
	}
	return strings.Join(ops, ",")
}
