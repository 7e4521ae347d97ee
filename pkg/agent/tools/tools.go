package tools

import (
	"github.com/zysoong/open-codex-gui/pkg/agent"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// Sandbox returns the full tool set that operates against a live
// sandbox handle; available once a conversation's environment exists.
func Sandbox(handle sandbox.Handle) []agent.Tool {
	return []agent.Tool{
		NewBash(handle),
		NewFileRead(handle),
		NewFileWrite(handle),
		NewFileEdit(handle),
		NewEditLines(handle),
		NewSearch(handle),
	}
}
