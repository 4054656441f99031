package template

import (
	"fmt"
	"os"
	"strings"
)

// Patcher writes value into path at a zero-based line.
type Patcher interface {
	Patch(path string, line int, value string) error
}

// AnchorError reports an anchor line that does not carry the placeholder.
type AnchorError struct {
	Path  string
	Line  int
	Token string
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("%s: line %d does not contain %q", e.Path, e.Line, e.Token)
}

// PlaceholderPatcher replaces the token on the target line with the value.
// The rest of the file is left byte for byte as it was.
type PlaceholderPatcher struct {
	Token string
}

// NewPlaceholderPatcher creates a patcher for token, or DefaultToken when
// token is empty.
func NewPlaceholderPatcher(token string) *PlaceholderPatcher {
	if token == "" {
		token = DefaultToken
	}
	return &PlaceholderPatcher{Token: token}
}

func (p *PlaceholderPatcher) Patch(path string, line int, value string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	if line < 0 || line >= len(lines) || !strings.Contains(lines[line], p.Token) {
		return &AnchorError{Path: path, Line: line, Token: p.Token}
	}
	lines[line] = strings.ReplaceAll(lines[line], p.Token, value)

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), info.Mode().Perm())
}
