package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Prompt writes prompt to w and reads a single line from r. The line
// ending is not part of the result. Reaching the end of r before a line
// ending is not an error.
func Prompt(r io.Reader, w io.Writer, prompt string) (string, error) {
	if prompt != "" && w != nil {
		if _, err := fmt.Fprint(w, prompt); err != nil {
			return "", fmt.Errorf("writing prompt: %w", err)
		}
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Lines yields the lines of r until it ends or fails.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if !yield(scanner.Text(), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", err)
		}
	}
}
