package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

const instructions = `# Write the post above.
# Lines starting with '#' are ignored, an empty post is not sent.
`

// Editor composes a post in an external editor taken from $EDITOR,
// falling back to vi.
type Editor struct {
	Command []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

func NewEditor() *Editor {
	command := strings.Fields(os.Getenv("EDITOR"))
	if len(command) == 0 {
		command = []string{"vi"}
	}
	return &Editor{
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Cmd prepares the editor command and the temp file it edits, which holds
// the initial content and the instructions.
func (e *Editor) Cmd(ctx context.Context, initial string) (*exec.Cmd, string, error) {
	f, err := os.CreateTemp("", "herald-*.txt")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.WriteString(initial + "\n" + instructions); err != nil {
		_ = os.Remove(path)
		return nil, "", fmt.Errorf("writing to temp file: %w", err)
	}

	args := append(append([]string(nil), e.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr
	return cmd, path, nil
}

// Compose runs the editor and returns the text saved by the user.
func (e *Editor) Compose(ctx context.Context, initial string) (string, error) {
	cmd, path, err := e.Cmd(ctx, initial)
	if err != nil {
		return "", err
	}
	if err := cmd.Run(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("running editor %s: %w", e.Command[0], err)
	}
	return ReadContent(path)
}

// ReadContent reads the edited file, drops the comment lines, trims
// whitespace and removes the file.
func ReadContent(path string) (string, error) {
	defer func() {
		_ = os.Remove(path)
	}()

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("reading temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading temp file: %w", err)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
