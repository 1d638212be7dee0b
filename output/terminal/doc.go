// Package terminal renders sample windows as per-channel sparklines with
// bubbletea and lipgloss, and maps keys onto the pipeline controls:
//
//	g  toggle grid view
//	d  pause or resume the display
//	b  cycle bit mode (auto, ten, twelve, fourteen)
//	r  clear the sample buffer
//	q  quit
package terminal
