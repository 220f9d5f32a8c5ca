package prompt

import "regexp"

// SecretType identifies a category of leaked credential
type SecretType string

const (
	SecretTypeAWSKey       SecretType = "aws_key"
	SecretTypeGCPKey       SecretType = "gcp_key"
	SecretTypePassword     SecretType = "password"
	SecretTypePrivateKey   SecretType = "private_key"
	SecretTypeJWT          SecretType = "jwt"
	SecretTypeSlackToken   SecretType = "slack_token"
	SecretTypeGitHubToken  SecretType = "github_token"
	SecretTypeStripeKey    SecretType = "stripe_key"
	SecretTypeOpenAIKey    SecretType = "openai_key"
	SecretTypeAnthropicKey SecretType = "anthropic_key"
	SecretTypeDatabaseURL  SecretType = "database_url"
)

// RedactSecretConfidence is the default threshold for rewriting a detected
// secret. Password-assignment matches score below it on purpose: they are
// too false-positive-prone to rewrite silently.
const RedactSecretConfidence = 0.8

// SecretDetection is one suspected credential within the inspected text
type SecretDetection struct {
	Type       SecretType
	Value      string
	StartPos   int
	EndPos     int
	Confidence float64
}

type secretRule struct {
	typ        SecretType
	confidence float64
	pattern    *regexp.Regexp

	// submatch redacts capture group 1 instead of the whole match, so the
	// assignment prefix ("password=") survives redaction
	submatch bool
}

var secretRules = []secretRule{
	{SecretTypePrivateKey, 1.0, regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|OPENSSH\s+|EC\s+|DSA\s+)?PRIVATE\s+KEY-----`), false},
	{SecretTypeAWSKey, 0.95, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), false},
	{SecretTypeGCPKey, 0.95, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), false},
	{SecretTypeSlackToken, 0.95, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,72}\b`), false},
	{SecretTypeGitHubToken, 0.95, regexp.MustCompile(`\bgh[poursn]_[A-Za-z0-9]{36,}\b`), false},
	{SecretTypeStripeKey, 0.95, regexp.MustCompile(`\b[sr]k_(?:live|test)_[0-9a-zA-Z]{24,}\b`), false},
	{SecretTypeAnthropicKey, 0.95, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-]{20,}\b`), false},
	{SecretTypeOpenAIKey, 0.9, regexp.MustCompile(`\bsk-[A-Za-z0-9]{32,}\b`), false},
	{SecretTypeJWT, 0.9, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`), false},
	{SecretTypeDatabaseURL, 0.9, regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`), false},
	{SecretTypePassword, 0.7, regexp.MustCompile(`(?i)(?:password|passwd|pwd)[:\s=]+['"]?([^\s'"]{8,})['"]?`), true},
}

// DetectSecrets scans text for credential material. Overlapping matches keep
// the higher-confidence detection.
func DetectSecrets(text string) []SecretDetection {
	var detections []SecretDetection
	for _, rule := range secretRules {
		if rule.submatch {
			for _, match := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
				if len(match) < 4 || match[2] < 0 {
					continue
				}
				detections = append(detections, SecretDetection{
					Type:       rule.typ,
					Value:      text[match[2]:match[3]],
					StartPos:   match[2],
					EndPos:     match[3],
					Confidence: rule.confidence,
				})
			}
			continue
		}
		for _, match := range rule.pattern.FindAllStringIndex(text, -1) {
			detections = append(detections, SecretDetection{
				Type:       rule.typ,
				Value:      text[match[0]:match[1]],
				StartPos:   match[0],
				EndPos:     match[1],
				Confidence: rule.confidence,
			})
		}
	}
	return dedupeSecrets(detections)
}

// RedactSecrets replaces detections at or above minConfidence with typed
// placeholders and returns the rewritten text with the applied detections.
func RedactSecrets(text string, minConfidence float64) (string, []SecretDetection) {
	var applied []SecretDetection
	for _, d := range DetectSecrets(text) {
		if d.Confidence >= minConfidence {
			applied = append(applied, d)
		}
	}
	if len(applied) == 0 {
		return text, nil
	}

	result := text
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		result = result[:d.StartPos] + secretRedactionFor(d.Type) + result[d.EndPos:]
	}
	return result, applied
}

func secretRedactionFor(secretType SecretType) string {
	switch secretType {
	case SecretTypeAWSKey:
		return "[AWS_KEY_REDACTED]"
	case SecretTypeGCPKey:
		return "[GCP_KEY_REDACTED]"
	case SecretTypePassword:
		return "[PASSWORD_REDACTED]"
	case SecretTypePrivateKey:
		return "[PRIVATE_KEY_REDACTED]"
	case SecretTypeJWT:
		return "[JWT_REDACTED]"
	case SecretTypeSlackToken:
		return "[SLACK_TOKEN_REDACTED]"
	case SecretTypeGitHubToken:
		return "[GITHUB_TOKEN_REDACTED]"
	case SecretTypeStripeKey:
		return "[STRIPE_KEY_REDACTED]"
	case SecretTypeOpenAIKey:
		return "[OPENAI_KEY_REDACTED]"
	case SecretTypeAnthropicKey:
		return "[ANTHROPIC_KEY_REDACTED]"
	case SecretTypeDatabaseURL:
		return "[DATABASE_URL_REDACTED]"
	default:
		return "[SECRET_REDACTED]"
	}
}

// dedupeSecrets keeps the higher-confidence detection when spans overlap,
// returning the survivors in text order.
func dedupeSecrets(detections []SecretDetection) []SecretDetection {
	if len(detections) < 2 {
		return detections
	}

	for i := 0; i < len(detections); i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[j].Confidence > detections[i].Confidence {
				detections[i], detections[j] = detections[j], detections[i]
			}
		}
	}

	var kept []SecretDetection
	for _, d := range detections {
		overlaps := false
		for _, k := range kept {
			if d.StartPos < k.EndPos && k.StartPos < d.EndPos {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}

	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if kept[j].StartPos < kept[i].StartPos {
				kept[i], kept[j] = kept[j], kept[i]
			}
		}
	}
	return kept
}
