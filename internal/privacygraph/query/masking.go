package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Masking strategy names recognized by ApplyMaskingStrategy. Unrecognized
// names fall back to NullRewrite so an unknown strategy still produces a
// safe result rather than leaking the original value.
const (
	StrategyNullRewrite  = "null_rewrite"
	StrategyHash         = "hash"
	StrategyStringRewrite = "string_rewrite"
	StrategyRandomString = "random_string_rewrite"
)

// ApplyMaskingStrategy transforms original according to strategy,
// returning the value to write back in its place.
func ApplyMaskingStrategy(strategy model.MaskingStrategy, original any) any {
	switch strategy.Name {
	case StrategyNullRewrite:
		return nil
	case StrategyStringRewrite:
		if v, ok := strategy.Params["value"]; ok {
			return v
		}
		return "MASKED"
	case StrategyHash:
		s, ok := original.(string)
		if !ok || s == "" {
			return nil
		}
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	case StrategyRandomString:
		length := 8
		if v, ok := strategy.Params["length"].(int); ok && v > 0 {
			length = v
		}
		return strings.Repeat("*", length)
	default:
		return nil
	}
}
