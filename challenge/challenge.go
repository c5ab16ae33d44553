// Package challenge generates verifiable arithmetic prompts and grades
// model replies. A challenge proves an endpoint is actually answering,
// not merely reachable.
package challenge

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/petal-labs/vigil/core"
)

// Operand range for generated challenges. Small values keep the prompt
// trivial for any model while leaving enough sum variety to catch cached
// or canned replies.
const (
	operandMin = 2
	operandMax = 49
)

// Generate returns a fresh "a + b = ?" challenge with ExpectedAnswer equal
// to the exact decimal sum. It never calls an external service.
func Generate() core.Challenge {
	a := operandMin + rand.IntN(operandMax-operandMin+1)
	b := operandMin + rand.IntN(operandMax-operandMin+1)

	return core.Challenge{
		Prompt:         "What is " + strconv.Itoa(a) + " + " + strconv.Itoa(b) + "? Reply with only the number.",
		ExpectedAnswer: strconv.Itoa(a + b),
	}
}

// numberPattern matches integers and decimals with an optional sign.
var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Validation is the outcome of grading one reply.
type Validation struct {
	Valid            bool
	ExtractedNumbers []string
}

// Validate scans text for all numeric substrings and reports whether the
// expected answer appears among them. Surrounding reasoning text never
// causes a false negative; an empty extraction is simply invalid.
func Validate(text, expectedAnswer string) Validation {
	numbers := numberPattern.FindAllString(text, -1)
	if len(numbers) == 0 {
		return Validation{Valid: false, ExtractedNumbers: []string{}}
	}

	want := normalizeNumber(expectedAnswer)
	for _, n := range numbers {
		if normalizeNumber(n) == want {
			return Validation{Valid: true, ExtractedNumbers: numbers}
		}
	}
	return Validation{Valid: false, ExtractedNumbers: numbers}
}

// normalizeNumber reduces a numeric string to a canonical form so that
// "8", "8.0" and "+8" compare equal.
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}
