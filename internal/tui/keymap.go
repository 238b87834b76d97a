package tui

// Key binding constants used in handleKey.
const (
	KeyQuit   = "q"
	KeyCtrlC  = "ctrl+c"
	KeyUp     = "up"
	KeyDown   = "down"
	KeyJ      = "j"
	KeyK      = "k"
	KeyEnter  = "enter"
	KeyEsc    = "esc"
	KeySpace  = " "
	KeyStop   = "s"
	KeySubmit = "p"
	KeyRetry  = "r"
)
