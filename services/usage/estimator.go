package usage

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// encodingName is the BPE encoding used for estimation regardless of the
// requested model; exact per-model encodings matter for billing, not for
// budget admission.
const encodingName = "cl100k_base"

// Estimator counts prompt tokens locally, for rate limit admission and for
// responses whose upstream omitted usage. The tiktoken encoding loads lazily
// on first use; when its vocabulary cannot be fetched the estimator degrades
// to a bytes/4 heuristic.
type Estimator struct {
	logger *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewEstimator(logger *zap.Logger) *Estimator {
	return &Estimator{logger: logger}
}

// Estimate returns the approximate token count of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			e.logger.Warn("token encoding unavailable, using byte heuristic",
				zap.String("encoding", encodingName),
				zap.Error(err))
			return
		}
		e.enc = enc
	})

	if e.enc == nil {
		return heuristicTokens(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// heuristicTokens approximates one token per four bytes, rounded up.
func heuristicTokens(text string) int {
	return (len(text) + 3) / 4
}

// modelPrice is the USD price per million tokens for one model family.
type modelPrice struct {
	prefix               string
	promptPerMillion     float64
	completionPerMillion float64
}

// priceTable maps model name prefixes to prices. Entries are ordered so the
// most specific prefix matches first; versioned names like gpt-4o-2024-08-06
// fall through to their family entry.
var priceTable = []modelPrice{
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.00},
	{"gpt-4.1-nano", 0.10, 0.40},
	{"gpt-4.1-mini", 0.40, 1.60},
	{"gpt-4.1", 2.00, 8.00},
	{"o3-mini", 1.10, 4.40},
	{"o3", 2.00, 8.00},
	{"text-embedding-3-small", 0.02, 0},
	{"text-embedding-3-large", 0.13, 0},
	{"claude-3-5-haiku", 0.80, 4.00},
	{"claude-sonnet-4", 3.00, 15.00},
	{"claude-opus-4", 15.00, 75.00},
}

// CostUSD prices a request against the model pricing table. Unknown models
// cost zero rather than failing the record.
func CostUSD(model string, promptTokens, completionTokens int) float64 {
	for _, p := range priceTable {
		if strings.HasPrefix(model, p.prefix) {
			return float64(promptTokens)*p.promptPerMillion/1e6 +
				float64(completionTokens)*p.completionPerMillion/1e6
		}
	}
	return 0
}
