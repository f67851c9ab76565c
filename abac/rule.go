package abac

// DefaultMaxDepth is how many rule levels are evaluated, the root included.
const DefaultMaxDepth = 3

// EvaluateRule evaluates r with DefaultMaxDepth.
func EvaluateRule(r Rule, bag map[string]any) bool {
	return EvaluateRuleDepth(r, bag, DefaultMaxDepth)
}

// EvaluateRuleDepth evaluates r, allowing at most maxDepth levels.
//
// AND needs every condition and every child to match; OR needs one. A rule
// with nothing in it matches. A child below maxDepth does not match, so an
// over-deep AND branch fails closed. maxDepth <= 0 means DefaultMaxDepth.
func EvaluateRuleDepth(r Rule, bag map[string]any, maxDepth int) bool {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return evalRule(r, bag, 1, maxDepth)
}

func evalRule(r Rule, bag map[string]any, depth, maxDepth int) bool {
	if depth > maxDepth {
		return false
	}
	if len(r.Conditions) == 0 && len(r.Children) == 0 {
		return true
	}

	switch r.Logic {
	case LogicAnd, "":
		for _, c := range r.Conditions {
			if !EvaluateCondition(c, bag) {
				return false
			}
		}
		for _, child := range r.Children {
			if !evalRule(child, bag, depth+1, maxDepth) {
				return false
			}
		}
		return true

	case LogicOr:
		for _, c := range r.Conditions {
			if EvaluateCondition(c, bag) {
				return true
			}
		}
		for _, child := range r.Children {
			if evalRule(child, bag, depth+1, maxDepth) {
				return true
			}
		}
		return false
	}
	return false
}
