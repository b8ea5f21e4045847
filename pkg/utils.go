package pkg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// GetProjectRoot returns the nearest directory at or above start that contains a .git entry.
// Worktrees and submodules, where .git is a file, are found as well.
func GetProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", start)
	}

	for {
		_, err = os.Lstat(filepath.Join(dir, ".git"))
		if err == nil {
			return dir, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to check %s for a repository", dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", eris.Errorf("No repository found at or above %s", start)
}

// PrintError writes msg to out, highlighted as an error.
func PrintError(out io.Writer, msg string) {
	colorstring.Fprint(out, fmt.Sprintf("[red][bold]error:[reset] %s\n", msg))
}
