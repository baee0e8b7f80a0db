package dom

import (
	"context"
	"strings"
	"sync"
)

// HeadlessDocument is an in-memory element tree.
type HeadlessDocument struct {
	listeners

	window *HeadlessWindow

	mu         sync.Mutex
	root       *HeadlessElement
	body       *HeadlessElement
	fullscreen Element
}

var (
	_ Document       = (*HeadlessDocument)(nil)
	_ PropertyGetter = (*HeadlessDocument)(nil)
)

func newDocument(w *HeadlessWindow) *HeadlessDocument {
	d := &HeadlessDocument{window: w}
	d.root = d.newElement("html")
	d.body = d.newElement("body")
	d.root.children = append(d.root.children, d.body)
	d.body.parent = d.root
	return d
}

// Body implements Document.
func (d *HeadlessDocument) Body() Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.body == nil {
		return nil
	}
	return d.body
}

// FullscreenElement implements Document.
func (d *HeadlessDocument) FullscreenElement() Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}

// ExitFullscreen clears the fullscreen element.
func (d *HeadlessDocument) ExitFullscreen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullscreen = nil
}

// CreateElement implements Document. A "canvas" tag yields a Canvas.
func (d *HeadlessDocument) CreateElement(tag string) (Element, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || strings.ContainsAny(tag, " <>\"'/=") {
		return nil, &Error{Name: "InvalidCharacterError", Message: "the tag name provided ('" + tag + "') is not a valid name"}
	}
	if tag == "canvas" {
		return d.newCanvas(), nil
	}
	return d.newElement(tag), nil
}

// AppendChild implements Node on the document root.
func (d *HeadlessDocument) AppendChild(child Node) (Node, error) {
	return d.root.AppendChild(child)
}

// QuerySelector implements Document. Supported selectors are "#id", a tag
// name, and "tag#id".
func (d *HeadlessDocument) QuerySelector(selector string) (Element, error) {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return nil, &Error{Name: "SyntaxError", Message: "'' is not a valid selector"}
	}
	tag, id, _ := strings.Cut(sel, "#")
	if strings.ContainsAny(tag, " .[:>+~") || strings.ContainsAny(id, " .[:>+~#") {
		return nil, &Error{Name: "SyntaxError", Message: "'" + sel + "' is not a supported selector"}
	}
	tag = strings.ToLower(tag)

	var found *HeadlessElement
	d.root.walk(func(e *HeadlessElement) bool {
		if tag != "" && e.tag != tag {
			return true
		}
		if id != "" {
			if v, ok := e.Attribute("id"); !ok || v != id {
				return true
			}
		}
		found = e
		return false
	})
	if found == nil {
		return nil, nil
	}
	if found.canvas != nil {
		return found.canvas, nil
	}
	return found, nil
}

// Property implements PropertyGetter.
func (d *HeadlessDocument) Property(name string) (any, bool) {
	switch name {
	case "body":
		return d.Body(), true
	case "fullscreenElement":
		return d.FullscreenElement(), true
	}
	return nil, false
}

func (d *HeadlessDocument) newElement(tag string) *HeadlessElement {
	return &HeadlessElement{
		doc:   d,
		tag:   tag,
		attrs: make(map[string]string),
		style: &HeadlessStyle{props: make(map[string]string)},
	}
}

func (d *HeadlessDocument) newCanvas() *HeadlessCanvas {
	c := &HeadlessCanvas{HeadlessElement: d.newElement("canvas"), width: 300, height: 150}
	c.HeadlessElement.canvas = c
	return c
}

// HeadlessElement is an element of a HeadlessDocument.
type HeadlessElement struct {
	listeners

	doc      *HeadlessDocument
	tag      string
	attrs    map[string]string
	style    *HeadlessStyle
	parent   *HeadlessElement
	children []*HeadlessElement

	// canvas points back at the wrapper when this element is a canvas.
	canvas *HeadlessCanvas
}

var _ Element = (*HeadlessElement)(nil)

// TagName returns the upper-case tag name, as browsers do for HTML elements.
func (e *HeadlessElement) TagName() string { return strings.ToUpper(e.tag) }

func (e *HeadlessElement) SetAttribute(name, value string) error {
	if name == "" || strings.ContainsAny(name, " \"'>/=") {
		return &Error{Name: "InvalidCharacterError", Message: "'" + name + "' is not a valid attribute name"}
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.attrs[strings.ToLower(name)] = value
	return nil
}

func (e *HeadlessElement) Attribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := e.attrs[strings.ToLower(name)]
	return v, ok
}

func (e *HeadlessElement) Style() Style { return e.style }

// AppendChild moves child under e. Appending an ancestor of e fails with a
// HierarchyRequestError.
func (e *HeadlessElement) AppendChild(child Node) (Node, error) {
	c := asElement(child)
	if c == nil {
		return nil, TypeError("parameter 1 is not of type 'Node'")
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	for p := e; p != nil; p = p.parent {
		if p == c {
			return nil, &Error{Name: "HierarchyRequestError", Message: "the new child element contains the parent"}
		}
	}
	c.detach()
	c.parent = e
	e.children = append(e.children, c)
	return child, nil
}

// Remove detaches e from its parent.
func (e *HeadlessElement) Remove() {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.detach()
	if e.doc.body == e {
		e.doc.body = nil
	}
}

func (e *HeadlessElement) RequestFullscreen() error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.parent == nil && e != e.doc.root {
		return TypeError("element is not connected")
	}
	if e.canvas != nil {
		e.doc.fullscreen = e.canvas
	} else {
		e.doc.fullscreen = e
	}
	return nil
}

// Children returns the direct children of e.
func (e *HeadlessElement) Children() []Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	out := make([]Element, 0, len(e.children))
	for _, c := range e.children {
		if c.canvas != nil {
			out = append(out, c.canvas)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Dispatch delivers ev to the element listeners, then bubbles it through the
// ancestors. An attached element bubbles on to the document and the window.
// Stopping propagation lets the current target's listeners finish.
func (e *HeadlessElement) Dispatch(ctx context.Context, ev Event) {
	logger := e.doc.window.logger
	top := e
	for p := e; p != nil; p = p.parent {
		p.dispatch(ctx, logger, ev)
		if ev.CancelBubble() {
			return
		}
		top = p
	}
	if top != e.doc.root {
		return
	}
	e.doc.dispatch(ctx, logger, ev)
	if ev.CancelBubble() {
		return
	}
	e.doc.window.dispatch(ctx, logger, ev)
}

// Property implements PropertyGetter.
func (e *HeadlessElement) Property(name string) (any, bool) {
	switch name {
	case "style":
		return e.style, true
	case "tagName":
		return e.TagName(), true
	}
	if v, ok := e.Attribute(name); ok {
		return v, true
	}
	return nil, false
}

// detach must be called with doc.mu held.
func (e *HeadlessElement) detach() {
	if e.parent == nil {
		return
	}
	siblings := e.parent.children
	for i, s := range siblings {
		if s == e {
			e.parent.children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	e.parent = nil
}

func (e *HeadlessElement) walk(visit func(*HeadlessElement) bool) bool {
	if !visit(e) {
		return false
	}
	for _, c := range e.children {
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

func asElement(n Node) *HeadlessElement {
	switch v := n.(type) {
	case *HeadlessElement:
		return v
	case *HeadlessCanvas:
		return v.HeadlessElement
	}
	return nil
}

// HeadlessCanvas is a canvas element with a drawing buffer size.
type HeadlessCanvas struct {
	*HeadlessElement

	width  uint32
	height uint32
}

var _ Canvas = (*HeadlessCanvas)(nil)

func (c *HeadlessCanvas) Width() uint32 {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	return c.width
}

func (c *HeadlessCanvas) SetWidth(w uint32) {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	c.width = w
}

func (c *HeadlessCanvas) Height() uint32 {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	return c.height
}

func (c *HeadlessCanvas) SetHeight(h uint32) {
	c.doc.mu.Lock()
	defer c.doc.mu.Unlock()
	c.height = h
}

// HeadlessStyle is an inline style declaration.
type HeadlessStyle struct {
	mu    sync.Mutex
	props map[string]string
}

var _ Style = (*HeadlessStyle)(nil)

// SetProperty sets or, with an empty value, removes a property.
func (s *HeadlessStyle) SetProperty(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &Error{Name: "SyntaxError", Message: "empty property name"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.props, name)
		return nil
	}
	s.props[name] = value
	return nil
}

func (s *HeadlessStyle) PropertyValue(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props[name]
}
