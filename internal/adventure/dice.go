package adventure

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// Dice limits. Totals stay far inside int range at these bounds.
const (
	MaxDiceCount = 100
	MaxDiceFaces = 1000
	MaxModifier  = 1000
)

var diceNotation = regexp.MustCompile(`^(\d+)[dD](\d+)(?:([+-])(\d+))?$`)

// InvalidDiceNotationError reports a dice string that could not be parsed or
// is out of range.
type InvalidDiceNotationError struct {
	Notation string
	Reason   string
}

func (e *InvalidDiceNotationError) Error() string {
	return fmt.Sprintf("invalid dice notation %q: %s", e.Notation, e.Reason)
}

// DiceSpec is a parsed NdF[+/-M] expression.
type DiceSpec struct {
	Count    int
	Faces    int
	Modifier int
}

func (d DiceSpec) String() string {
	s := fmt.Sprintf("%dd%d", d.Count, d.Faces)
	switch {
	case d.Modifier > 0:
		s += fmt.Sprintf("+%d", d.Modifier)
	case d.Modifier < 0:
		s += fmt.Sprintf("%d", d.Modifier)
	}
	return s
}

// Min is the smallest possible total.
func (d DiceSpec) Min() int { return d.Count + d.Modifier }

// Max is the largest possible total.
func (d DiceSpec) Max() int { return d.Count*d.Faces + d.Modifier }

// Roller draws a uniform integer in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
type Roller interface {
	IntN(n int) int
}

type globalRoller struct{}

func (globalRoller) IntN(n int) int { return rand.IntN(n) }

// DefaultRoller uses the process-wide random source.
var DefaultRoller Roller = globalRoller{}

// RollResult is the outcome of one roll: every die and the total.
type RollResult struct {
	Spec  DiceSpec `json:"spec"`
	Rolls []int    `json:"rolls"`
	Total int      `json:"total"`
}

// Breakdown renders the result as "3 + 5 + 2 (+1) = 11".
func (r RollResult) Breakdown() string {
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	s := strings.Join(parts, " + ")
	if r.Spec.Modifier != 0 {
		s += fmt.Sprintf(" (%+d)", r.Spec.Modifier)
	}
	return fmt.Sprintf("%s = %d", s, r.Total)
}

// ParseDice parses NdF, NdF+M or NdF-M. Whitespace is ignored.
func ParseDice(notation string) (DiceSpec, error) {
	compact := strings.Join(strings.Fields(notation), "")
	m := diceNotation.FindStringSubmatch(compact)
	if m == nil {
		return DiceSpec{}, &InvalidDiceNotationError{Notation: notation, Reason: "expected NdF, NdF+M or NdF-M"}
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 || count > MaxDiceCount {
		return DiceSpec{}, &InvalidDiceNotationError{Notation: notation, Reason: fmt.Sprintf("dice count must be between 1 and %d", MaxDiceCount)}
	}
	faces, err := strconv.Atoi(m[2])
	if err != nil || faces < 2 || faces > MaxDiceFaces {
		return DiceSpec{}, &InvalidDiceNotationError{Notation: notation, Reason: fmt.Sprintf("faces must be between 2 and %d", MaxDiceFaces)}
	}

	spec := DiceSpec{Count: count, Faces: faces}
	if m[3] != "" {
		mod, err := strconv.Atoi(m[4])
		if err != nil || mod > MaxModifier {
			return DiceSpec{}, &InvalidDiceNotationError{Notation: notation, Reason: fmt.Sprintf("modifier must be at most %d", MaxModifier)}
		}
		if m[3] == "-" {
			mod = -mod
		}
		spec.Modifier = mod
	}
	return spec, nil
}

// Roll draws Count dice with r and adds the modifier.
func (d DiceSpec) Roll(r Roller) RollResult {
	if r == nil {
		r = DefaultRoller
	}
	rolls := make([]int, d.Count)
	total := d.Modifier
	for i := range rolls {
		rolls[i] = r.IntN(d.Faces) + 1
		total += rolls[i]
	}
	return RollResult{Spec: d, Rolls: rolls, Total: total}
}

// Roll parses notation and rolls it.
func Roll(notation string, r Roller) (RollResult, error) {
	spec, err := ParseDice(notation)
	if err != nil {
		return RollResult{}, err
	}
	return spec.Roll(r), nil
}
