package tui

import (
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/pkg/jsonutil"
)

// stateBadge renders the session state in its color.
func stateBadge(s session.State) string {
	label := s.String()
	switch s {
	case session.Loading:
		return stateLoadingStyle.Render(label)
	case session.Loaded:
		return stateLoadedStyle.Render(label)
	case session.Error:
		return stateErrorStyle.Render(label)
	default:
		return stateIdleStyle.Render(label)
	}
}

// truncate cuts a string to maxLen runes and appends "..." if truncated.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	return jsonutil.TruncateString(s, maxLen)
}

// shortID returns first n characters of an ID string.
func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// clamp restricts val to [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
