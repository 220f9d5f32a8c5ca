// Package guard applies content policy rules to prompt text. Segment
// extraction and JSON splicing belong to the protocol adapters; this service
// only sees plain text.
package guard

import (
	"go.uber.org/zap"

	"github.com/infergate/infergate/internal/prompt"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services"
)

// Result describes what inspection did to one text segment.
type Result struct {
	// Text is the segment after any redactions
	Text string

	PIIRedactions    []prompt.PIIDetection
	SecretRedactions []prompt.SecretDetection

	// InjectionRisk is the aggregate injection score for the segment,
	// recorded even when blocking is disabled or nothing blocks
	InjectionRisk float64
}

// Redactions returns the total number of rewrites applied to the segment.
func (r *Result) Redactions() int {
	return len(r.PIIRedactions) + len(r.SecretRedactions)
}

type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Inspect applies cfg to one text segment. A confident injection detection
// fails the request; otherwise the possibly-rewritten segment comes back in
// Result.Text. A nil cfg passes the segment through untouched.
func (s *Service) Inspect(cfg *models.ContentConfig, text string) (*Result, error) {
	res := &Result{Text: text}
	if cfg == nil {
		return res, nil
	}

	detections := prompt.DetectInjections(text)
	res.InjectionRisk = prompt.RiskScore(detections)
	if cfg.BlockInjection {
		if d := prompt.BlockingDetection(detections); d != nil {
			s.logger.Warn("prompt injection blocked",
				zap.String("injection_type", string(d.Type)),
				zap.Float64("confidence", d.Confidence))
			return nil, services.NewDomainError(services.ErrorTypeContentPolicy, "prompt injection detected", nil).
				WithDetail("injection_type", string(d.Type))
		}
	}

	if cfg.RedactPII {
		rewritten, applied := prompt.RedactPII(res.Text, cfg.PIITypes)
		res.Text = rewritten
		res.PIIRedactions = applied
	}

	if cfg.RedactSecrets {
		rewritten, applied := prompt.RedactSecrets(res.Text, prompt.RedactSecretConfidence)
		res.Text = rewritten
		res.SecretRedactions = applied
	}

	return res, nil
}
