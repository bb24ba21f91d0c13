// Package tui implements the radview terminal viewer.
//
// It is the host of a viewer session: bus events, key presses and drop
// folder batches all arrive as BubbleTea messages, so the session
// controller is only ever driven from the Update goroutine.
//
// Component architecture:
//
//	model.go     root model, message routing, Init/Update
//	theme.go     centralized color + style definitions
//	header.go    top bar with session context, footer hints
//	toolbar.go   tool buttons and load progress
//	datasets.go  loaded dataset list
//	detail.go    dataset metadata + session summary
//	diffview.go  metadata comparison between two datasets
//	helpers.go   truncation, badges, etc.
package tui
