package matcher

import (
	"fmt"
	"regexp"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

// evaluateConstraints checks every declared constraint against the
// offer's attributes and the spec's already-running instances (section
// 4.1 step 4). It returns one human-readable reason per failed
// constraint.
func evaluateConstraints(constraints []spec.Constraint, offer offers.Offer, running []*instance.Instance) []string {
	var failed []string
	for _, c := range constraints {
		if ok, reason := evaluateConstraint(c, offer, running); !ok {
			failed = append(failed, reason)
		}
	}
	return failed
}

func evaluateConstraint(c spec.Constraint, offer offers.Offer, running []*instance.Instance) (bool, string) {
	value := attributeValue(offer, c.Field)

	switch c.Kind {
	case spec.ConstraintUnique:
		for _, inst := range running {
			if attributeOf(inst, c.Field) == value {
				return false, fmt.Sprintf("UNIQUE(%s): value %q already used by instance %s", c.Field, value, inst.ID)
			}
		}
		return true, ""

	case spec.ConstraintCluster:
		if c.Value == "" {
			for _, inst := range running {
				if seen := attributeOf(inst, c.Field); seen != "" && seen != value {
					return false, fmt.Sprintf("CLUSTER(%s): fleet value %q conflicts with offer value %q", c.Field, seen, value)
				}
			}
			return true, ""
		}
		if value != c.Value {
			return false, fmt.Sprintf("CLUSTER(%s): offer value %q != required %q", c.Field, value, c.Value)
		}
		return true, ""

	case spec.ConstraintGroupBy:
		if !evaluateGroupBy(c, value, running) {
			return false, fmt.Sprintf("GROUP_BY(%s,%d): value %q is not among the least-used values", c.Field, c.N, value)
		}
		return true, ""

	case spec.ConstraintLike:
		if !matchesRegex(c.Value, value) {
			return false, fmt.Sprintf("LIKE(%s): value %q does not match %q", c.Field, value, c.Value)
		}
		return true, ""

	case spec.ConstraintUnlike:
		if matchesRegex(c.Value, value) {
			return false, fmt.Sprintf("UNLIKE(%s): value %q matches %q", c.Field, value, c.Value)
		}
		return true, ""

	case spec.ConstraintMaxPer:
		count := 0
		for _, inst := range running {
			if attributeOf(inst, c.Field) == value {
				count++
			}
		}
		if count >= c.N {
			return false, fmt.Sprintf("MAX_PER(%s,%d): already %d instances at value %q", c.Field, c.N, count, value)
		}
		return true, ""
	}
	return true, ""
}

// evaluateGroupBy balances placement across n distinct attribute
// values: it's satisfied by the least-used value(s) among those already
// observed or by a value not yet observed, or by any value while fewer
// than n distinct values have been seen.
func evaluateGroupBy(c spec.Constraint, value string, running []*instance.Instance) bool {
	counts := make(map[string]int)
	for _, inst := range running {
		counts[attributeOf(inst, c.Field)]++
	}
	if len(counts) < c.N {
		return true
	}
	min := -1
	for _, n := range counts {
		if min == -1 || n < min {
			min = n
		}
	}
	return counts[value] <= min
}

func attributeValue(offer offers.Offer, field string) string {
	if field == "hostname" {
		return offer.Host
	}
	return offer.Attributes[field]
}

func attributeOf(inst *instance.Instance, field string) string {
	if field == "hostname" {
		return inst.Agent.Host
	}
	return inst.Agent.Attributes[field]
}

func matchesRegex(pattern, value string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
