package hotkeys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Modifier is a bitmask of held modifier keys, using the macOS event flag values.
type Modifier uint64

// KeyCode is a macOS virtual key code.
type KeyCode uint16

const (
	ModShift   Modifier = 0x20000
	ModControl Modifier = 0x40000
	ModOption  Modifier = 0x80000
	ModCommand Modifier = 0x100000

	allModifiers = ModShift | ModControl | ModOption | ModCommand
)

// maxKeyCode is the highest virtual key code produced by Apple keyboards.
const maxKeyCode KeyCode = 0x7F

// Virtual key codes referenced by name.
const (
	KeyG      KeyCode = 5
	KeyReturn KeyCode = 36
	KeyTab    KeyCode = 48
	KeySpace  KeyCode = 49
	KeyDelete KeyCode = 51
	KeyEscape KeyCode = 53
)

// ErrInvalidCombination is returned by ParseCombination for unusable input.
var ErrInvalidCombination = errors.New("invalid hotkey combination")

// Combination is a trigger: the modifiers that must be held plus one key.
// The zero value is not a usable combination; see DefaultCombination.
type Combination struct {
	Modifiers Modifier
	KeyCode   KeyCode
}

// DefaultCombination returns Command+G.
func DefaultCombination() Combination {
	return Combination{Modifiers: ModCommand, KeyCode: KeyG}
}

// Valid reports whether c names at least one known modifier and a key code
// inside the keyboard range.
func (c Combination) Valid() bool {
	return c.Modifiers&allModifiers != 0 && c.KeyCode <= maxKeyCode
}

// Matches reports whether an event with the given mask and key satisfies c.
// Extra modifiers beyond the required ones do not block a match.
func (c Combination) Matches(mods Modifier, key KeyCode) bool {
	return key == c.KeyCode && mods&c.Modifiers == c.Modifiers
}

var modifierSymbols = []struct {
	mod    Modifier
	symbol string
}{
	{ModControl, "⌃"},
	{ModOption, "⌥"},
	{ModShift, "⇧"},
	{ModCommand, "⌘"},
}

// String renders c the way the menu bar shows shortcuts, e.g. "⇧⌘G".
func (c Combination) String() string {
	var b strings.Builder
	for _, ms := range modifierSymbols {
		if c.Modifiers&ms.mod != 0 {
			b.WriteString(ms.symbol)
		}
	}
	b.WriteString(KeyName(c.KeyCode))
	return b.String()
}

var specialKeyNames = map[KeyCode]string{
	KeyReturn: "Return",
	KeyTab:    "Tab",
	KeySpace:  "Space",
	KeyDelete: "Delete",
	KeyEscape: "Escape",
	122:       "F1",
	120:       "F2",
	99:        "F3",
	118:       "F4",
	96:        "F5",
	97:        "F6",
	98:        "F7",
	100:       "F8",
	101:       "F9",
	109:       "F10",
	103:       "F11",
	111:       "F12",
	123:       "←",
	124:       "→",
	125:       "↓",
	126:       "↑",
}

var characterKeys = map[KeyCode]string{
	0: "A", 11: "B", 8: "C", 2: "D", 14: "E", 3: "F", 5: "G", 4: "H",
	34: "I", 38: "J", 40: "K", 37: "L", 46: "M", 45: "N", 31: "O", 35: "P",
	12: "Q", 15: "R", 1: "S", 17: "T", 32: "U", 9: "V", 13: "W", 7: "X",
	16: "Y", 6: "Z",
	29: "0", 18: "1", 19: "2", 20: "3", 21: "4", 23: "5", 22: "6", 26: "7",
	28: "8", 25: "9",
	50: "`", 27: "-", 24: "=", 33: "[", 30: "]", 41: ";", 39: "'", 43: ",",
	47: ".", 44: "/", 42: "\\",
}

// KeyName returns the display name of a virtual key code. Unknown codes
// render as "Key<n>".
func KeyName(key KeyCode) string {
	if name, ok := specialKeyNames[key]; ok {
		return name
	}
	if name, ok := characterKeys[key]; ok {
		return name
	}
	return "Key" + strconv.Itoa(int(key))
}

var modifierByName = map[string]Modifier{
	"CMD":     ModCommand,
	"COMMAND": ModCommand,
	"⌘":       ModCommand,
	"OPT":     ModOption,
	"OPTION":  ModOption,
	"ALT":     ModOption,
	"⌥":       ModOption,
	"CTRL":    ModControl,
	"CONTROL": ModControl,
	"⌃":       ModControl,
	"SHIFT":   ModShift,
	"⇧":       ModShift,
}

var keyByName map[string]KeyCode

func init() {
	keyByName = make(map[string]KeyCode, len(specialKeyNames)+len(characterKeys)+4)
	for code, name := range specialKeyNames {
		keyByName[strings.ToUpper(name)] = code
	}
	for code, name := range characterKeys {
		keyByName[name] = code
	}
	keyByName["ENTER"] = KeyReturn
	keyByName["ESC"] = KeyEscape
	keyByName["LEFT"] = 123
	keyByName["RIGHT"] = 124
	keyByName["DOWN"] = 125
	keyByName["UP"] = 126
}

// ParseCombination parses specs like "Cmd+Shift+G" or "Ctrl+Option+Space".
// The last token is the key; every other token must be a modifier name.
func ParseCombination(spec string) (Combination, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Combination{}, fmt.Errorf("%w: empty spec", ErrInvalidCombination)
	}
	parts := strings.Split(raw, "+")
	if len(parts) < 2 {
		return Combination{}, fmt.Errorf("%w: %q needs modifiers and a key", ErrInvalidCombination, raw)
	}

	var mods Modifier
	for _, token := range parts[:len(parts)-1] {
		mod, ok := modifierByName[strings.ToUpper(strings.TrimSpace(token))]
		if !ok {
			return Combination{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidCombination, token, raw)
		}
		mods |= mod
	}

	keyToken := strings.ToUpper(strings.TrimSpace(parts[len(parts)-1]))
	key, ok := keyByName[keyToken]
	if !ok {
		return Combination{}, fmt.Errorf("%w: unknown key %q in %q", ErrInvalidCombination, parts[len(parts)-1], raw)
	}
	return Combination{Modifiers: mods, KeyCode: key}, nil
}
