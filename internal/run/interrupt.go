package run

import "errors"

var errNoOptions = errors.New("run: interrupt requires at least one option")

// Option is one discrete resolvable choice offered by an interrupt.
type Option struct {
	Label       string
	Description string
}

// Interrupt is a single decision point blocking forward progress. Rows
// after AnchorRowID stay hidden until the interrupt resolves. Resolution is
// first-caller-wins and immutable once set.
type Interrupt struct {
	AnchorRowID string
	Context     string
	Options     []Option

	resolved   bool
	resolution string
}

func NewInterrupt(anchorRowID, context string, options []Option) (*Interrupt, error) {
	if len(options) == 0 {
		return nil, errNoOptions
	}
	return &Interrupt{
		AnchorRowID: anchorRowID,
		Context:     context,
		Options:     options,
	}, nil
}

// Resolve sets the resolution from either an option index (int) or free
// text (string). It is a no-op once resolved, and a no-op for an
// out-of-range index or unsupported choice type.
func (i *Interrupt) Resolve(choice any) {
	if i.resolved {
		return
	}

	switch c := choice.(type) {
	case int:
		if c < 0 || c >= len(i.Options) {
			return
		}
		i.resolution = i.Options[c].Label
	case string:
		if c == "" {
			return
		}
		i.resolution = c
	default:
		return
	}

	i.resolved = true
}

func (i *Interrupt) Resolved() bool {
	return i.resolved
}

// Resolution returns the chosen option label or free-text answer. Empty
// until resolved.
func (i *Interrupt) Resolution() string {
	return i.resolution
}
