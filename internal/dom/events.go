package dom

// BaseEvent is a plain Event. The embedder dispatches events through
// HeadlessWindow.Dispatch or HeadlessElement.Dispatch.
type BaseEvent struct {
	Kind string

	defaultPrevented bool
	stopped          bool
}

var _ Event = (*BaseEvent)(nil)

// NewEvent returns an event of the given type.
func NewEvent(typ string) *BaseEvent {
	return &BaseEvent{Kind: typ}
}

func (e *BaseEvent) Type() string           { return e.Kind }
func (e *BaseEvent) CancelBubble() bool     { return e.stopped }
func (e *BaseEvent) PreventDefault()        { e.defaultPrevented = true }
func (e *BaseEvent) StopPropagation()       { e.stopped = true }
func (e *BaseEvent) DefaultPrevented() bool { return e.defaultPrevented }

// KeyState carries the modifier flags of an input event.
type KeyState struct {
	Ctrl, Shift, Alt, Meta bool
}

func (k KeyState) CtrlKey() bool  { return k.Ctrl }
func (k KeyState) ShiftKey() bool { return k.Shift }
func (k KeyState) AltKey() bool   { return k.Alt }
func (k KeyState) MetaKey() bool  { return k.Meta }

// Mouse is a MouseEvent.
type Mouse struct {
	BaseEvent
	KeyState

	ButtonIndex int16
	X, Y        int32
}

var _ MouseEvent = (*Mouse)(nil)

func (m *Mouse) Button() int16  { return m.ButtonIndex }
func (m *Mouse) OffsetX() int32 { return m.X }
func (m *Mouse) OffsetY() int32 { return m.Y }

// Pointer is a PointerEvent.
type Pointer struct {
	Mouse

	ID int32
}

var _ PointerEvent = (*Pointer)(nil)

func (p *Pointer) PointerID() int32 { return p.ID }

// Wheel is a WheelEvent.
type Wheel struct {
	Mouse

	DX, DY float64
	Mode   uint32
}

var _ WheelEvent = (*Wheel)(nil)

func (w *Wheel) DeltaX() float64   { return w.DX }
func (w *Wheel) DeltaY() float64   { return w.DY }
func (w *Wheel) DeltaMode() uint32 { return w.Mode }

// Keyboard is a KeyboardEvent.
type Keyboard struct {
	BaseEvent
	KeyState

	KeyName  string
	CodeName string
	Char     uint32
	KeyNum   uint32
}

var _ KeyboardEvent = (*Keyboard)(nil)

func (k *Keyboard) Key() string      { return k.KeyName }
func (k *Keyboard) Code() string     { return k.CodeName }
func (k *Keyboard) CharCode() uint32 { return k.Char }
func (k *Keyboard) KeyCode() uint32  { return k.KeyNum }
