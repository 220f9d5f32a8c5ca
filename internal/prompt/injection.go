package prompt

import "regexp"

// InjectionType categorizes a prompt injection technique
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeRoleManipulation    InjectionType = "role_manipulation"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeDataExfiltration    InjectionType = "data_exfiltration"
	InjectionTypeJailbreak           InjectionType = "jailbreak"
	InjectionTypeDelimiterAttack     InjectionType = "delimiter_attack"
	InjectionTypeEncodingAttack      InjectionType = "encoding_attack"
)

// BlockConfidence is the threshold above which a detection blocks the
// request rather than merely being recorded.
const BlockConfidence = 0.8

// InjectionDetection is one suspected injection attempt within the text
type InjectionDetection struct {
	Type       InjectionType
	Confidence float64
	StartPos   int
	EndPos     int
}

type injectionRule struct {
	typ        InjectionType
	confidence float64
	patterns   []*regexp.Regexp
}

var injectionRules = []injectionRule{
	{
		typ:        InjectionTypeSystemPromptLeak,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+((all|any|previous|above|prior)\s+){1,2}(instructions?|prompts?|commands?)`),
			regexp.MustCompile(`(?i)show\s+(me\s+)?(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`),
			regexp.MustCompile(`(?i)what\s+(is|are|was|were)\s+(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`),
			regexp.MustCompile(`(?i)(reveal|print|repeat)\s+(your|the)\s+(system|hidden|secret|original)\s+(prompt|instructions?)`),
		},
	},
	{
		typ:        InjectionTypeRoleManipulation,
		confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(you|your)\s+(are|role|identity)\s+(now|is|changed)`),
			regexp.MustCompile(`(?i)assume\s+(the\s+)?(role|identity)\s+of`),
			regexp.MustCompile(`(?i)pretend\s+(to\s+)?be\s+(a|an)`),
			regexp.MustCompile(`(?i)act\s+as\s+(if\s+)?(you|you're|you\s+are)`),
			regexp.MustCompile(`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`),
		},
	},
	{
		typ:        InjectionTypeInstructionOverride,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)disregard\s+((all|any|previous|above|prior)\s+){1,2}(instructions?|rules|commands?)`),
			regexp.MustCompile(`(?i)override\s+(all|previous|system)\s+(instructions?|rules|settings?)`),
			regexp.MustCompile(`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`),
			regexp.MustCompile(`(?i)start\s+over\s+with\s+new\s+instructions?`),
		},
	},
	{
		typ:        InjectionTypeDataExfiltration,
		confidence: 0.95,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(execute|run)\s+(this|the\s+following)\s+(code|script|command)`),
			regexp.MustCompile(`(?i)(eval|system|exec)\s*\(`),
			regexp.MustCompile(`(?i)import\s+(os|sys|subprocess|socket)`),
			regexp.MustCompile(`(?i)send\s+(data|information|content)\s+to\s+(http|https)://`),
		},
	},
	{
		typ:        InjectionTypeJailbreak,
		confidence: 0.95,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)DAN\s+mode`),
			regexp.MustCompile(`(?i)developer\s+mode`),
			regexp.MustCompile(`(?i)jailbreak`),
			regexp.MustCompile(`(?i)(unrestricted|god|evil)\s+mode`),
			regexp.MustCompile(`(?i)without\s+(any|ethical|moral)\s+(restrictions?|limitations?|guidelines?)`),
		},
	},
	{
		typ:        InjectionTypeDelimiterAttack,
		confidence: 0.8,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(\[SYSTEM\]|\[/SYSTEM\]|\[USER\]|\[/USER\]|\[ASSISTANT\]|\[/ASSISTANT\])`),
			regexp.MustCompile(`(<\|system\|>|<\|user\|>|<\|assistant\|>|<\|end\|>)`),
			regexp.MustCompile(`###\s*(SYSTEM|USER|ASSISTANT|INSTRUCTION)`),
		},
	},
	{
		typ:        InjectionTypeEncodingAttack,
		confidence: 0.7,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)base64\s*[:\s=]\s*[A-Za-z0-9+/]{20,}={0,2}`),
			regexp.MustCompile(`(?i)hex\s*[:\s=]\s*[0-9a-fA-F]{20,}`),
			regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){10,}`),
		},
	},
}

// DetectInjections scans text against every injection rule.
func DetectInjections(text string) []InjectionDetection {
	var detections []InjectionDetection
	for _, rule := range injectionRules {
		for _, pattern := range rule.patterns {
			for _, match := range pattern.FindAllStringIndex(text, -1) {
				detections = append(detections, InjectionDetection{
					Type:       rule.typ,
					Confidence: rule.confidence,
					StartPos:   match[0],
					EndPos:     match[1],
				})
			}
		}
	}
	return detections
}

// BlockingDetection returns the first detection confident enough to block
// the request, or nil.
func BlockingDetection(detections []InjectionDetection) *InjectionDetection {
	for i := range detections {
		if detections[i].Confidence >= BlockConfidence {
			return &detections[i]
		}
	}
	return nil
}

// RiskScore aggregates detections into a 0..1 score, weighting the
// techniques that matter most. Used for audit logs and telemetry, not for
// the block decision.
func RiskScore(detections []InjectionDetection) float64 {
	if len(detections) == 0 {
		return 0.0
	}

	var totalConfidence, totalWeight float64
	for _, d := range detections {
		weight := 1.0
		switch d.Type {
		case InjectionTypeDataExfiltration, InjectionTypeJailbreak:
			weight = 2.0
		case InjectionTypeInstructionOverride, InjectionTypeSystemPromptLeak:
			weight = 1.5
		}
		totalConfidence += d.Confidence * weight
		totalWeight += weight
	}

	score := totalConfidence / totalWeight
	if score > 1.0 {
		score = 1.0
	}
	return score
}
