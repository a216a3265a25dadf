package ops

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// bound is a closed numeric interval, optionally open at the bottom.
type bound struct {
	min, max float64
	openMin  bool
}

// shadowAlpha is the drop shadow alpha when the color leaves it out.
const shadowAlpha = 0.25

var (
	positionBound = bound{min: -10000, max: 10000}
	sizeBound     = bound{min: 0, max: 10000, openMin: true}
	radiusBound   = bound{min: 0, max: 1000}
	spacingBound  = bound{min: 0, max: 10000}
	unitBound     = bound{min: 0, max: 1}
	fontSizeBound = bound{min: 1, max: 1000}
	lineBound     = bound{min: 1, max: 10000}
	letterBound   = bound{min: -100, max: 100}
	nonNegBound   = bound{min: 0, max: math.Inf(1)}
	anyBound      = bound{min: math.Inf(-1), max: math.Inf(1)}
)

func (b bound) contains(f float64) bool {
	if b.openMin && f <= b.min || f < b.min {
		return false
	}
	return f <= b.max
}

func (b bound) String() string {
	fmtf := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	switch {
	case math.IsInf(b.min, -1) && math.IsInf(b.max, 1):
		return "a number"
	case math.IsInf(b.max, 1):
		return "a number >= " + fmtf(b.min)
	}
	left := "["
	if b.openMin {
		left = "("
	}
	return fmt.Sprintf("a number in %s%s, %s]", left, fmtf(b.min), fmtf(b.max))
}

func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

// reader pulls typed fields out of a raw map and keeps the first error.
// Every accessor records its key, so after parsing, the recorded keys are
// exactly the fields legal for the kind.
type reader struct {
	raw  map[string]any
	used map[string]bool
	err  error
}

func newReader(raw map[string]any) *reader {
	return &reader{raw: raw, used: map[string]bool{"op": true}}
}

func (r *reader) fail(err *FieldError) {
	if r.err == nil {
		r.err = err
	}
}

// get treats an explicit null the same as an absent key.
func (r *reader) get(key string) (any, bool) {
	r.used[key] = true
	v, ok := r.raw[key]
	return v, ok && v != nil
}

func (r *reader) str(key string) *string {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	s, isStr := v.(string)
	if !isStr {
		r.fail(&FieldError{Field: key, Value: v, Constraint: "a string"})
		return nil
	}
	return &s
}

// id reads an optional non-empty identifier; "" means unset.
func (r *reader) id(key string) string {
	s := r.str(key)
	if s == nil {
		return ""
	}
	if *s == "" {
		r.fail(&FieldError{Field: key, Value: *s, Constraint: "a non-empty string"})
	}
	return *s
}

func (r *reader) requiredID(key string) string {
	if _, ok := r.get(key); !ok {
		r.fail(&FieldError{Field: key, Missing: true, Constraint: "a non-empty string"})
		return ""
	}
	return r.id(key)
}

func (r *reader) num(key string, b bound) *float64 {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	f, isNum := number(v)
	if !isNum || !b.contains(f) {
		r.fail(&FieldError{Field: key, Value: v, Constraint: b.String()})
		return nil
	}
	return &f
}

func (r *reader) boolean(key string) *bool {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	b, isBool := v.(bool)
	if !isBool {
		r.fail(&FieldError{Field: key, Value: v, Constraint: "true or false"})
		return nil
	}
	return &b
}

func enum[T ~string](r *reader, key string, allowed []T) *T {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	if s, isStr := v.(string); isStr && slices.Contains(allowed, T(s)) {
		t := T(s)
		return &t
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	r.fail(&FieldError{Field: key, Value: v, Constraint: "one of " + strings.Join(names, ", ")})
	return nil
}

func (r *reader) fontWeight(key string) *FontWeight {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	w, valid := NormalizeFontWeight(v)
	if !valid {
		r.fail(&FieldError{Field: key, Value: v, Constraint: fontWeightConstraint})
		return nil
	}
	return &w
}

// object reads a nested map. Nested fields are reported as "parent.child".
func (r *reader) object(key string) (*reader, bool) {
	v, ok := r.get(key)
	if !ok {
		return nil, false
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		r.fail(&FieldError{Field: key, Value: v, Constraint: "an object"})
		return nil, false
	}
	return r.nested(key, m), true
}

func (r *reader) nested(prefix string, m map[string]any) *reader {
	sub := make(map[string]any, len(m))
	for k, v := range m {
		sub[prefix+"."+k] = v
	}
	return &reader{raw: sub, used: map[string]bool{}}
}

// merge folds a nested reader's outcome into r.
func (r *reader) merge(sub *reader) {
	if err := sub.finish(); err != nil && r.err == nil {
		r.err = err
	}
}

// readColor reads r, g and b as required channels. A falls back to alpha.
func readColor(prefix string, m *reader, alpha float64) Color {
	c := Color{A: alpha}
	for _, ch := range []struct {
		key string
		dst *float64
	}{{"r", &c.R}, {"g", &c.G}, {"b", &c.B}} {
		f := m.num(prefix+"."+ch.key, unitBound)
		if f == nil && m.err == nil {
			m.fail(&FieldError{Field: prefix + "." + ch.key, Missing: true, Constraint: unitBound.String()})
		}
		if f != nil {
			*ch.dst = *f
		}
	}
	if a := m.num(prefix+".a", unitBound); a != nil {
		c.A = *a
	}
	return c
}

func (r *reader) colorField(key string, alpha float64) (Color, bool) {
	sub, ok := r.object(key)
	if !ok {
		return Color{}, false
	}
	c := readColor(key, sub, alpha)
	r.merge(sub)
	return c, true
}

func (r *reader) fills(key string) []Color {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		r.fail(&FieldError{Field: key, Value: v, Constraint: "a list of {r,g,b,a} colors"})
		return nil
	}
	out := make([]Color, 0, len(list))
	for i, item := range list {
		field := fmt.Sprintf("%s[%d]", key, i)
		m, isMap := item.(map[string]any)
		if !isMap {
			r.fail(&FieldError{Field: field, Value: item, Constraint: "an {r,g,b,a} color"})
			return nil
		}
		sub := r.nested(field, m)
		out = append(out, readColor(field, sub, 1))
		r.merge(sub)
	}
	return out
}

func (r *reader) stroke(key string) *Stroke {
	sub, ok := r.object(key)
	if !ok {
		return nil
	}
	s := &Stroke{}
	var hasColor bool
	s.Color, hasColor = sub.colorField(key+".color", 1)
	if !hasColor {
		sub.fail(&FieldError{Field: key + ".color", Missing: true, Constraint: "an {r,g,b,a} color"})
	}
	if w := sub.num(key+".weight", nonNegBound); w != nil {
		s.Weight = *w
	} else {
		s.Weight = 1
	}
	s.Align = enum(sub, key+".align", strokeAligns)
	r.merge(sub)
	return s
}

func (r *reader) shadow(key string) *Shadow {
	sub, ok := r.object(key)
	if !ok {
		return nil
	}
	s := &Shadow{Color: Color{A: shadowAlpha}}
	if c, hasColor := sub.colorField(key+".color", shadowAlpha); hasColor {
		s.Color = c
	}
	if off, hasOffset := sub.object(key + ".offset"); hasOffset {
		if x := off.num(key+".offset.x", anyBound); x != nil {
			s.OffsetX = *x
		}
		if y := off.num(key+".offset.y", anyBound); y != nil {
			s.OffsetY = *y
		}
		sub.merge(off)
	}
	if rad := sub.num(key+".radius", nonNegBound); rad != nil {
		s.Radius = *rad
	}
	r.merge(sub)
	return s
}

// finish rejects keys no accessor asked for.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	var unknown []string
	for k := range r.raw {
		if !r.used[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	allowed := make([]string, 0, len(r.used))
	for k := range r.used {
		if k != "op" {
			allowed = append(allowed, k)
		}
	}
	slices.Sort(allowed)
	return &FieldError{
		Field:      unknown[0],
		Value:      r.raw[unknown[0]],
		Constraint: "no such field; allowed fields are " + strings.Join(allowed, ", "),
	}
}

// read takes tempId as required for create kinds. Update and delete ops may
// carry one for the producer's bookkeeping.
func (h *Header) read(r *reader, tempIDRequired bool) {
	if tempIDRequired {
		h.TempID = r.requiredID("tempId")
	} else {
		h.TempID = r.id("tempId")
	}
	h.Name = r.str("name")
}

func (p *Placement) read(r *reader) {
	p.ParentTempID = r.id("parentTempId")
	p.ParentNodeID = r.id("parentNodeId")
	p.X = r.num("x", positionBound)
	p.Y = r.num("y", positionBound)
}

func (p *Paint) read(r *reader) {
	p.Fills = r.fills("fills")
	p.Stroke = r.stroke("stroke")
	p.Opacity = r.num("opacity", unitBound)
}

func (s *Size) read(r *reader) {
	s.W = r.num("w", sizeBound)
	s.H = r.num("h", sizeBound)
}

func (l *Layout) read(r *reader) {
	l.LayoutMode = enum(r, "layoutMode", layoutModes)
	l.ItemSpacing = r.num("itemSpacing", spacingBound)
	l.PaddingLeft = r.num("paddingLeft", spacingBound)
	l.PaddingRight = r.num("paddingRight", spacingBound)
	l.PaddingTop = r.num("paddingTop", spacingBound)
	l.PaddingBottom = r.num("paddingBottom", spacingBound)
	l.PrimaryAxisAlignItems = enum(r, "primaryAxisAlignItems", primaryAxisAligns)
	l.CounterAxisAlignItems = enum(r, "counterAxisAlignItems", counterAxisAligns)
	l.ClipsContent = r.boolean("clipsContent")
	l.DropShadow = r.shadow("dropShadow")
}

func (t *Typography) read(r *reader, textRequired bool) {
	if _, ok := r.get("text"); !ok && textRequired {
		r.fail(&FieldError{Field: "text", Missing: true, Constraint: "a string"})
	}
	t.Text = r.str("text")
	t.FontSize = r.num("fontSize", fontSizeBound)
	if t.FontFamily = r.str("fontFamily"); t.FontFamily != nil && *t.FontFamily == "" {
		r.fail(&FieldError{Field: "fontFamily", Value: "", Constraint: "a non-empty string"})
	}
	t.FontWeight = r.fontWeight("fontWeight")
	t.TextAlignHorizontal = enum(r, "textAlignHorizontal", textAligns)
	t.TextAutoResize = enum(r, "textAutoResize", textAutoResizes)
	t.LineHeight = r.num("lineHeight", lineBound)
	t.LetterSpacing = r.num("letterSpacing", letterBound)
}

// Parse converts one raw operation map into its typed variant. It fails with
// a *KindError for a missing or unknown "op" and a *FieldError for anything
// else, including keys that do not belong to the kind.
func Parse(raw map[string]any) (Op, error) {
	kind, _ := raw["op"].(string)
	r := newReader(raw)
	var op Op
	switch Kind(kind) {
	case KindCreateFrame:
		var o CreateFrame
		o.Header.read(r, true)
		o.Placement.read(r)
		o.Paint.read(r)
		o.Size.read(r)
		o.CornerRadius = r.num("cornerRadius", radiusBound)
		o.Layout.read(r)
		op = o
	case KindCreateRectangle:
		var o CreateRectangle
		o.Header.read(r, true)
		o.Placement.read(r)
		o.Paint.read(r)
		o.Size.read(r)
		o.CornerRadius = r.num("cornerRadius", radiusBound)
		op = o
	case KindCreateEllipse:
		var o CreateEllipse
		o.Header.read(r, true)
		o.Placement.read(r)
		o.Paint.read(r)
		o.Size.read(r)
		op = o
	case KindCreateText:
		var o CreateText
		o.Header.read(r, true)
		o.Placement.read(r)
		o.Paint.read(r)
		o.Size.read(r)
		o.Typography.read(r, true)
		op = o
	case KindUpdateNode:
		var o UpdateNode
		o.Header.read(r, false)
		o.NodeID = r.requiredID("nodeId")
		o.X = r.num("x", positionBound)
		o.Y = r.num("y", positionBound)
		o.Paint.read(r)
		o.Size.read(r)
		o.CornerRadius = r.num("cornerRadius", radiusBound)
		o.Layout.read(r)
		o.Typography.read(r, false)
		op = o
	case KindDeleteNode:
		var o DeleteNode
		o.Header.read(r, false)
		o.NodeID = r.requiredID("nodeId")
		op = o
	default:
		return nil, &KindError{Kind: raw["op"]}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return op, nil
}
