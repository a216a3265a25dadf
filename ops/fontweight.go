package ops

import (
	"fmt"
	"math"
	"strings"
)

// FontWeight is a canonical font style name understood by the executor.
type FontWeight string

const (
	WeightThin       FontWeight = "Thin"
	WeightExtraLight FontWeight = "Extra Light"
	WeightLight      FontWeight = "Light"
	WeightRegular    FontWeight = "Regular"
	WeightMedium     FontWeight = "Medium"
	WeightSemiBold   FontWeight = "Semi Bold"
	WeightBold       FontWeight = "Bold"
	WeightExtraBold  FontWeight = "Extra Bold"
	WeightBlack      FontWeight = "Black"
)

// fontWeights is indexed by numeric weight / 100 - 1.
var fontWeights = [9]FontWeight{
	WeightThin, WeightExtraLight, WeightLight, WeightRegular, WeightMedium,
	WeightSemiBold, WeightBold, WeightExtraBold, WeightBlack,
}

var fontWeightConstraint = func() string {
	parts := make([]string, len(fontWeights))
	for i, w := range fontWeights {
		parts[i] = fmt.Sprintf("%d (%s)", (i+1)*100, w)
	}
	return "one of " + strings.Join(parts, ", ") + " as a number or a name"
}()

// NormalizeFontWeight maps a numeric weight (100..900 in steps of 100) or a
// canonical name to its canonical name. Names match case-insensitively.
func NormalizeFontWeight(v any) (FontWeight, bool) {
	if s, ok := v.(string); ok {
		for _, w := range fontWeights {
			if strings.EqualFold(s, string(w)) {
				return w, true
			}
		}
		return "", false
	}
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return "", false
	}
	n := int(f)
	if n < 100 || n > 900 || n%100 != 0 {
		return "", false
	}
	return fontWeights[n/100-1], true
}
