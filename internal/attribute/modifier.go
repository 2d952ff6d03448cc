package attribute

import "fmt"

// Type names a scalar stat such as "Health" or "Mana".
type Type string

// Operator selects the modifier list a modifier lives in and how it folds
// into the value.
type Operator int8

const (
	OpPlus Operator = iota
	OpMinus
	OpMultiply
	OpDivide
	OpInnerOverride
	OpOuterOverride

	operatorCount = iota
)

var operatorNames = [operatorCount]string{
	OpPlus:          "Plus",
	OpMinus:         "Minus",
	OpMultiply:      "Multiply",
	OpDivide:        "Divide",
	OpInnerOverride: "InnerOverride",
	OpOuterOverride: "OuterOverride",
}

// String returns the operator name used in definitions and logs.
func (op Operator) String() string {
	if !op.IsValid() {
		return fmt.Sprintf("Operator(%d)", int8(op))
	}
	return operatorNames[op]
}

// IsValid reports whether op is one of the six known operators.
func (op Operator) IsValid() bool { return op >= 0 && op < operatorCount }

// ParseOperator resolves a name produced by String.
func ParseOperator(name string) (Operator, error) {
	for i, n := range operatorNames {
		if n == name {
			return Operator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown modifier operator %q", name)
}

// Source is the owner key of a modifier. Each source owns at most one
// modifier per operator on an attribute.
type Source string

// IsValid reports whether the source is set.
func (s Source) IsValid() bool { return s != "" }

// Modifier is one contribution to an attribute's value.
type Modifier struct {
	Source     Source
	Value      float64
	StackCount int
	Active     bool
}

// magnitude returns the stacked contribution of an active modifier.
func (m Modifier) magnitude() float64 {
	if !m.Active {
		return 0
	}
	return m.Value * float64(m.StackCount)
}
