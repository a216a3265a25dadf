// Package ops defines the design operations a producer may submit and the
// validator that turns raw operation maps into a batch the executor can run
// without checking anything itself.
//
// An operation is a tagged variant selected by the "op" key. Every field is
// optional unless stated otherwise; an unset field is a nil pointer (or nil
// slice) and is omitted from the wire form, leaving the executor's default
// in effect.
package ops

// Kind is the wire discriminator of an operation.
type Kind string

const (
	KindCreateFrame     Kind = "CREATE_FRAME"
	KindCreateRectangle Kind = "CREATE_RECTANGLE"
	KindCreateEllipse   Kind = "CREATE_ELLIPSE"
	KindCreateText      Kind = "CREATE_TEXT"
	KindUpdateNode      Kind = "UPDATE_NODE"
	KindDeleteNode      Kind = "DELETE_NODE"
)

var allKinds = []Kind{
	KindCreateFrame, KindCreateRectangle, KindCreateEllipse, KindCreateText,
	KindUpdateNode, KindDeleteNode,
}

// Op is one validated operation. The set of implementations is closed:
// CreateFrame, CreateRectangle, CreateEllipse, CreateText, UpdateNode and
// DeleteNode.
type Op interface {
	Kind() Kind
	Common() Header
	// Wire returns the operation as a plain map using wire field names.
	Wire() map[string]any
	isOp()
}

// creator is implemented by the create kinds, which may reference a parent.
type creator interface {
	Op
	placement() Placement
}

type (
	LayoutMode       string
	PrimaryAxisAlign string
	CounterAxisAlign string
	TextAlign        string
	TextAutoResize   string
	StrokeAlign      string
)

var (
	layoutModes       = []LayoutMode{"NONE", "HORIZONTAL", "VERTICAL"}
	primaryAxisAligns = []PrimaryAxisAlign{"MIN", "CENTER", "MAX", "SPACE_BETWEEN"}
	counterAxisAligns = []CounterAxisAlign{"MIN", "CENTER", "MAX"}
	textAligns        = []TextAlign{"LEFT", "CENTER", "RIGHT", "JUSTIFIED"}
	textAutoResizes   = []TextAutoResize{"NONE", "WIDTH_AND_HEIGHT", "HEIGHT", "TRUNCATE"}
	strokeAligns      = []StrokeAlign{"INSIDE", "OUTSIDE", "CENTER"}
)

// Color channels are in [0,1]. A defaults to 1 when absent on the wire.
type Color struct {
	R, G, B, A float64
}

type Stroke struct {
	Color  Color
	Weight float64
	Align  *StrokeAlign
}

type Shadow struct {
	Color            Color
	OffsetX, OffsetY float64
	Radius           float64
}

// Header holds the fields every operation carries.
type Header struct {
	TempID string
	Name   *string
}

func (h Header) Common() Header { return h }
func (Header) isOp()            {}

// Placement positions a created node. At most one parent is set after
// validation; the empty string means unset.
type Placement struct {
	ParentTempID string
	ParentNodeID string
	X, Y         *float64
}

func (p Placement) placement() Placement { return p }

type Paint struct {
	Fills   []Color
	Stroke  *Stroke
	Opacity *float64
}

type Size struct {
	W, H *float64
}

// Layout carries frame auto-layout and container properties.
type Layout struct {
	LayoutMode            *LayoutMode
	ItemSpacing           *float64
	PaddingLeft           *float64
	PaddingRight          *float64
	PaddingTop            *float64
	PaddingBottom         *float64
	PrimaryAxisAlignItems *PrimaryAxisAlign
	CounterAxisAlignItems *CounterAxisAlign
	ClipsContent          *bool
	DropShadow            *Shadow
}

type Typography struct {
	Text                *string
	FontSize            *float64
	FontFamily          *string
	FontWeight          *FontWeight
	TextAlignHorizontal *TextAlign
	TextAutoResize      *TextAutoResize
	LineHeight          *float64
	LetterSpacing       *float64
}

type CreateFrame struct {
	Header
	Placement
	Paint
	Size
	CornerRadius *float64
	Layout
}

type CreateRectangle struct {
	Header
	Placement
	Paint
	Size
	CornerRadius *float64
}

type CreateEllipse struct {
	Header
	Placement
	Paint
	Size
}

// CreateText always carries Typography.Text.
type CreateText struct {
	Header
	Placement
	Paint
	Size
	Typography
}

// UpdateNode overwrites the set fields of an existing node.
type UpdateNode struct {
	Header
	NodeID string
	X, Y   *float64
	Paint
	Size
	CornerRadius *float64
	Layout
	Typography
}

type DeleteNode struct {
	Header
	NodeID string
}

func (CreateFrame) Kind() Kind     { return KindCreateFrame }
func (CreateRectangle) Kind() Kind { return KindCreateRectangle }
func (CreateEllipse) Kind() Kind   { return KindCreateEllipse }
func (CreateText) Kind() Kind      { return KindCreateText }
func (UpdateNode) Kind() Kind      { return KindUpdateNode }
func (DeleteNode) Kind() Kind      { return KindDeleteNode }

func (o CreateFrame) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	o.Placement.write(w)
	o.Paint.write(w)
	o.Size.write(w)
	w.num("cornerRadius", o.CornerRadius)
	o.Layout.write(w)
	return w
}

func (o CreateRectangle) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	o.Placement.write(w)
	o.Paint.write(w)
	o.Size.write(w)
	w.num("cornerRadius", o.CornerRadius)
	return w
}

func (o CreateEllipse) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	o.Placement.write(w)
	o.Paint.write(w)
	o.Size.write(w)
	return w
}

func (o CreateText) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	o.Placement.write(w)
	o.Paint.write(w)
	o.Size.write(w)
	o.Typography.write(w)
	return w
}

func (o UpdateNode) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	w["nodeId"] = o.NodeID
	w.num("x", o.X)
	w.num("y", o.Y)
	o.Paint.write(w)
	o.Size.write(w)
	w.num("cornerRadius", o.CornerRadius)
	o.Layout.write(w)
	o.Typography.write(w)
	return w
}

func (o DeleteNode) Wire() map[string]any {
	w := newWire(o.Kind(), o.Header)
	w["nodeId"] = o.NodeID
	return w
}

// wire accumulates set fields only.
type wire map[string]any

func newWire(k Kind, h Header) wire {
	w := wire{"op": string(k)}
	w.id("tempId", h.TempID)
	if h.Name != nil {
		w["name"] = *h.Name
	}
	return w
}

func (w wire) num(key string, v *float64) {
	if v != nil {
		w[key] = *v
	}
}

func (w wire) id(key, v string) {
	if v != "" {
		w[key] = v
	}
}

// str covers string and string-typed enum fields.
func str[T ~string](w wire, key string, v *T) {
	if v != nil {
		w[key] = string(*v)
	}
}

func (c Color) wire() map[string]any {
	return map[string]any{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}

func (p Placement) write(w wire) {
	w.id("parentTempId", p.ParentTempID)
	w.id("parentNodeId", p.ParentNodeID)
	w.num("x", p.X)
	w.num("y", p.Y)
}

func (p Paint) write(w wire) {
	if p.Fills != nil {
		fills := make([]any, len(p.Fills))
		for i, c := range p.Fills {
			fills[i] = c.wire()
		}
		w["fills"] = fills
	}
	if p.Stroke != nil {
		s := map[string]any{"color": p.Stroke.Color.wire(), "weight": p.Stroke.Weight}
		if p.Stroke.Align != nil {
			s["align"] = string(*p.Stroke.Align)
		}
		w["stroke"] = s
	}
	w.num("opacity", p.Opacity)
}

func (s Size) write(w wire) {
	w.num("w", s.W)
	w.num("h", s.H)
}

func (l Layout) write(w wire) {
	str(w, "layoutMode", l.LayoutMode)
	w.num("itemSpacing", l.ItemSpacing)
	w.num("paddingLeft", l.PaddingLeft)
	w.num("paddingRight", l.PaddingRight)
	w.num("paddingTop", l.PaddingTop)
	w.num("paddingBottom", l.PaddingBottom)
	str(w, "primaryAxisAlignItems", l.PrimaryAxisAlignItems)
	str(w, "counterAxisAlignItems", l.CounterAxisAlignItems)
	if l.ClipsContent != nil {
		w["clipsContent"] = *l.ClipsContent
	}
	if l.DropShadow != nil {
		w["dropShadow"] = map[string]any{
			"color":  l.DropShadow.Color.wire(),
			"offset": map[string]any{"x": l.DropShadow.OffsetX, "y": l.DropShadow.OffsetY},
			"radius": l.DropShadow.Radius,
		}
	}
}

func (t Typography) write(w wire) {
	str(w, "text", t.Text)
	w.num("fontSize", t.FontSize)
	str(w, "fontFamily", t.FontFamily)
	str(w, "fontWeight", t.FontWeight)
	str(w, "textAlignHorizontal", t.TextAlignHorizontal)
	str(w, "textAutoResize", t.TextAutoResize)
	w.num("lineHeight", t.LineHeight)
	w.num("letterSpacing", t.LetterSpacing)
}
