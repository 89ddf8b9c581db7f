package sqlguard

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a
// user-supplied value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Name        string // Name of the value that failed the check
	Value       any    // The value that was checked
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns
// in a user-supplied value (a chat question or a filter value forwarded into
// generated SQL).
//
// Only string values are checked - numbers, booleans, and other types cannot
// contain SQL injection patterns and return nil.
func CheckValueForInjection(name string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Name:        name,
			Value:       value,
		}
	}

	return nil
}

// CheckAllValues screens a set of named values and returns a result for
// each one that trips the injection detector. Empty slice means all clean.
func CheckAllValues(values map[string]any) []*InjectionCheckResult {
	results := make([]*InjectionCheckResult, 0)
	for name, value := range values {
		if r := CheckValueForInjection(name, value); r != nil {
			results = append(results, r)
		}
	}
	return results
}
