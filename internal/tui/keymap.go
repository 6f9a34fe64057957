package tui

// Key binding constants used in handleKey.
const (
	KeyQuit   = "q"
	KeyCtrlC  = "ctrl+c"
	KeyUp     = "up"
	KeyDown   = "down"
	KeyJ      = "j"
	KeyK      = "k"
	KeyRecord = "r"
	KeySpace  = " "
	KeyEnter  = "enter"
	KeyStop   = "s"
	KeyFaster = "+"
	KeySlower = "-"
	KeyDelete = "d"
)
