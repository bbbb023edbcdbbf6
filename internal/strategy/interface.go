package strategy

// Action is what a compiled strategy asks for on a bar.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// Rules is a compiled rule set evaluated by bar index.
type Rules interface {
	// Holds reports whether the rules fire on bar i.
	Holds(i int) bool
	// Warmup is the first bar index at which every referenced series is defined.
	Warmup() int
}
