// Package keymap routes raw key presses to dashboard intents. It is a pure
// function of the key and the current focus, so the mapping logic stays
// independent of the host's focus tracking.
package keymap

// FocusKind describes what currently holds keyboard focus.
type FocusKind int

const (
	// FocusNone means no text-entry control has focus.
	FocusNone FocusKind = iota
	// FocusText means a text-entry control has focus; capture shortcuts
	// must not intercept normal typing.
	FocusText
)

// CaptureMode is the prefix applied to the capture input when a shortcut
// focuses it.
type CaptureMode string

const (
	ModeNewItem    CaptureMode = "item"
	ModeModify     CaptureMode = "modify"
	ModeNode       CaptureMode = "node"
	ModePlace      CaptureMode = "place"
	ModeGap        CaptureMode = "gap"
	ModeDeleteNode CaptureMode = "delete"
)

// IntentKind identifies the routed intent.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentFocusCapture
	IntentTogglePalette
	IntentDeselect
)

// Intent is the result of routing one key press.
type Intent struct {
	Kind IntentKind
	Mode CaptureMode
}

const paletteKey = "ctrl+k"

var captureKeys = map[string]CaptureMode{
	"a": ModeNewItem,
	"m": ModeModify,
	"n": ModeNode,
	"p": ModePlace,
	"g": ModeGap,
	"d": ModeDeleteNode,
}

// Route maps a key press to an intent. The palette toggle takes precedence
// over every other binding, including while a text field has focus; while
// the palette is open no other page binding fires; all capture shortcuts
// are suppressed while a text-entry control has focus.
func Route(key string, focus FocusKind, paletteOpen bool) Intent {
	if key == paletteKey {
		return Intent{Kind: IntentTogglePalette}
	}
	if key == "esc" {
		return Intent{Kind: IntentDeselect}
	}
	if paletteOpen || focus == FocusText {
		return Intent{}
	}
	if mode, ok := captureKeys[key]; ok {
		return Intent{Kind: IntentFocusCapture, Mode: mode}
	}
	return Intent{}
}
