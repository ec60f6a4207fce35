package session

import (
	"fmt"
	"strings"
)

// Rendering retention policy, independent of the storage budget: the most
// recent turns are rendered verbatim, older ones in compressed form, and
// anything past the hard cap is not considered at all.
const (
	// VerbatimRecent is how many of the newest turns render in full.
	VerbatimRecent = 50

	// CompressedLimit is the character cap for a compressed old turn.
	CompressedLimit = 200

	// MaxConsidered is the hard cap on turns considered for rendering.
	MaxConsidered = 150
)

// Render formats turns for inclusion in a prompt. Turns older than the most
// recent VerbatimRecent are truncated and prefixed as lower-priority
// context; at most MaxConsidered turns are considered.
func Render(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > MaxConsidered {
		turns = turns[len(turns)-MaxConsidered:]
	}

	verbatimFrom := len(turns) - VerbatimRecent
	if verbatimFrom < 0 {
		verbatimFrom = 0
	}

	var sb strings.Builder
	for i, t := range turns {
		if i < verbatimFrom {
			sb.WriteString("[earlier] ")
			sb.WriteString(compressTurn(t))
		} else {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s", t.Query, t.Response)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// compressTurn reduces an old turn to a single truncated line.
func compressTurn(t Turn) string {
	line := fmt.Sprintf("%s -> %s", t.Query, t.Response)
	line = strings.ReplaceAll(line, "\n", " ")
	if len(line) > CompressedLimit {
		line = line[:CompressedLimit] + "..."
	}
	return line
}
