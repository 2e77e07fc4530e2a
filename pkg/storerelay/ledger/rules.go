// Package ledger records transfer outcome identifiers extracted from the
// external tool's output.
//
// Classification is output-driven: the process exit code is advisory, the
// per-identifier status tokens in the output text are authoritative. The
// extraction rules are a versioned contract against the tool's output
// grammar, tested independently of the batch executor.
package ledger

import "regexp"

// RulesVersion identifies the output grammar the default rules target.
// Increment when the tool's outcome line format changes.
const RulesVersion = 1

// Rules is a pair of extraction patterns over the tool's combined output.
// The two patterns must be mutually exclusive by construction: a rejected
// outcome must never also match the accepted pattern.
type Rules struct {
	accepted *regexp.Regexp
	rejected *regexp.Regexp
}

// NewRules builds a rule pair from two compiled patterns.
// Each pattern must expose the identifier as its first capture group.
func NewRules(accepted, rejected *regexp.Regexp) Rules {
	return Rules{accepted: accepted, rejected: rejected}
}

// DefaultRules matches the dcm4che storescu outcome grammar: each C-STORE
// response line carries a hexadecimal status token and the instance
// identifier. Status 0H is acceptance; any status with a non-zero leading
// digit is rejection, which keeps the two patterns disjoint.
func DefaultRules() Rules {
	return Rules{
		accepted: regexp.MustCompile(`(?is)status=0H.*?iuid=([\d.]+)`),
		rejected: regexp.MustCompile(`(?is)status=[^0][0-9A-F]*H.*?iuid=([\d.]+)`),
	}
}

// Accepted returns the ordered identifiers of accepted outcomes in output.
func (r Rules) Accepted(output string) []string {
	return extract(r.accepted, output)
}

// Rejected returns the ordered identifiers of rejected outcomes in output.
func (r Rules) Rejected(output string) []string {
	return extract(r.rejected, output)
}

func extract(re *regexp.Regexp, output string) []string {
	matches := re.FindAllStringSubmatch(output, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 1 && m[1] != "" {
			ids = append(ids, m[1])
		}
	}
	return ids
}
