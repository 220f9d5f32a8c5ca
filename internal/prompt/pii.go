// Package prompt inspects prompt text for PII and injection attempts.
// Detection is regex-based and intentionally conservative: validators (Luhn,
// SSN structure) cut false positives on bare digit runs.
package prompt

import (
	"regexp"
	"strings"
)

// PIIType identifies a category of personally identifiable information
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeIPAddress  PIIType = "ip_address"
)

// PIIDetection is one detected PII span within the inspected text
type PIIDetection struct {
	Type     PIIType
	Value    string
	StartPos int
	EndPos   int
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Z|a-z]{2,}\b`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})\b`),
		regexp.MustCompile(`\+[0-9]{1,3}[-.\s]?[0-9]{1,4}[-.\s]?[0-9]{3,4}[-.\s]?[0-9]{3,9}\b`),
	}

	ssnPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
		regexp.MustCompile(`\b[0-9]{9}\b`),
	}

	creditCardPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),
		regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),
		regexp.MustCompile(`\b3[47][0-9]{13}\b`),
		regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`),
		regexp.MustCompile(`\b(?:2131|1800|35\d{3})\d{11}\b`),
	}

	ipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
	}
)

// detectors runs in a fixed order so overlapping matches resolve the same
// way on every call
var detectors = []struct {
	typ      PIIType
	patterns []*regexp.Regexp
	validate func(string) bool
}{
	{PIITypeEmail, []*regexp.Regexp{emailPattern}, nil},
	{PIITypePhone, phonePatterns, nil},
	{PIITypeSSN, ssnPatterns, validSSNCandidate},
	{PIITypeCreditCard, creditCardPatterns, luhnCheck},
	{PIITypeIPAddress, ipPatterns, nil},
}

// IsKnownPIIType reports whether name is a recognized PII category.
// Configuration loading rejects unknown names.
func IsKnownPIIType(name string) bool {
	switch PIIType(name) {
	case PIITypeEmail, PIITypePhone, PIITypeSSN, PIITypeCreditCard, PIITypeIPAddress:
		return true
	}
	return false
}

// DetectPII scans text for the given PII categories. An empty allowed list
// scans for every category. Overlapping matches are collapsed to the
// earliest-starting span so redaction never splices twice into one region.
func DetectPII(text string, allowed []string) []PIIDetection {
	wanted := allowedSet(allowed)

	var detections []PIIDetection
	for _, d := range detectors {
		if wanted != nil && !wanted[d.typ] {
			continue
		}
		for _, pattern := range d.patterns {
			for _, match := range pattern.FindAllStringIndex(text, -1) {
				value := text[match[0]:match[1]]
				if d.validate != nil && !d.validate(value) {
					continue
				}
				detections = append(detections, PIIDetection{
					Type:     d.typ,
					Value:    value,
					StartPos: match[0],
					EndPos:   match[1],
				})
			}
		}
	}

	return collapseOverlaps(detections)
}

// RedactPII replaces detected PII spans with typed placeholders and returns
// the rewritten text with the detections that were applied.
func RedactPII(text string, allowed []string) (string, []PIIDetection) {
	detections := DetectPII(text, allowed)
	if len(detections) == 0 {
		return text, nil
	}

	// splice from the end so earlier offsets stay valid
	result := text
	for i := len(detections) - 1; i >= 0; i-- {
		d := detections[i]
		result = result[:d.StartPos] + redactionFor(d.Type) + result[d.EndPos:]
	}
	return result, detections
}

func redactionFor(piiType PIIType) string {
	switch piiType {
	case PIITypeEmail:
		return "[EMAIL_REDACTED]"
	case PIITypePhone:
		return "[PHONE_REDACTED]"
	case PIITypeSSN:
		return "[SSN_REDACTED]"
	case PIITypeCreditCard:
		return "[CC_REDACTED]"
	case PIITypeIPAddress:
		return "[IP_REDACTED]"
	default:
		return "[REDACTED]"
	}
}

func allowedSet(allowed []string) map[PIIType]bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[PIIType]bool, len(allowed))
	for _, name := range allowed {
		set[PIIType(name)] = true
	}
	return set
}

// collapseOverlaps sorts detections by start position and drops any span
// overlapping one already kept.
func collapseOverlaps(detections []PIIDetection) []PIIDetection {
	if len(detections) < 2 {
		return detections
	}

	for i := 0; i < len(detections); i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[j].StartPos < detections[i].StartPos {
				detections[i], detections[j] = detections[j], detections[i]
			}
		}
	}

	kept := detections[:1]
	for _, d := range detections[1:] {
		if d.StartPos < kept[len(kept)-1].EndPos {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// validSSNCandidate filters digit runs that cannot be social security
// numbers: zeroed groups, the 666 prefix, and the reserved 9xx range.
func validSSNCandidate(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	if len(digits) != 9 {
		return false
	}
	if digits[:3] == "000" || digits[3:5] == "00" || digits[5:] == "0000" {
		return false
	}
	if strings.HasPrefix(digits, "666") || strings.HasPrefix(digits, "9") {
		return false
	}
	return true
}

// luhnCheck validates a candidate card number's checksum.
func luhnCheck(cardNumber string) bool {
	cardNumber = strings.ReplaceAll(cardNumber, " ", "")
	cardNumber = strings.ReplaceAll(cardNumber, "-", "")

	if len(cardNumber) < 13 || len(cardNumber) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(cardNumber) - 1; i >= 0; i-- {
		digit := int(cardNumber[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}
