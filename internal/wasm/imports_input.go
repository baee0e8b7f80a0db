package wasm

import (
	"github.com/woxQAQ/wasm-host-bridge/internal/dom"
)

// Input event field extraction.
var inputImports = []ImportBinding{
	readI32("pointerId", "PointerEvent", dom.PointerEvent.PointerID),
	readF64("deltaX", "WheelEvent", dom.WheelEvent.DeltaX),
	readF64("deltaY", "WheelEvent", dom.WheelEvent.DeltaY),
	readI32("deltaMode", "WheelEvent", func(e dom.WheelEvent) int32 { return int32(e.DeltaMode()) }),
	readI32("offsetX", "MouseEvent", dom.MouseEvent.OffsetX),
	readI32("offsetY", "MouseEvent", dom.MouseEvent.OffsetY),
	readI32("button", "MouseEvent", func(e dom.MouseEvent) int32 { return int32(e.Button()) }),

	// Mouse and keyboard events share these; one binding serves both.
	readBool("ctrlKey", "event with modifiers", dom.Modifiers.CtrlKey),
	readBool("shiftKey", "event with modifiers", dom.Modifiers.ShiftKey),
	readBool("altKey", "event with modifiers", dom.Modifiers.AltKey),
	readBool("metaKey", "event with modifiers", dom.Modifiers.MetaKey),

	readI32("charCode", "KeyboardEvent", func(e dom.KeyboardEvent) int32 { return int32(e.CharCode()) }),
	readI32("keyCode", "KeyboardEvent", func(e dom.KeyboardEvent) int32 { return int32(e.KeyCode()) }),
	retString("key", "KeyboardEvent", dom.KeyboardEvent.Key),
	retString("code", "KeyboardEvent", dom.KeyboardEvent.Code),

	readBool("cancelBubble", "Event", dom.Event.CancelBubble),
	action("preventDefault", "Event", false, func(e dom.Event) error {
		e.PreventDefault()
		return nil
	}),
	action("stopPropagation", "Event", false, func(e dom.Event) error {
		e.StopPropagation()
		return nil
	}),
}
