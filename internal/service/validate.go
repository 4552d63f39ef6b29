package service

import (
	"strings"
	"unicode/utf8"

	"github.com/CZERTAINLY/herald/internal/model"
)

// IsBlank reports text which is empty or whitespace only.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Validate returns *model.TooLongError when text has more than max
// characters. Characters are unicode code points, not bytes.
func Validate(text string, max int) error {
	n := utf8.RuneCountInString(text)
	if n > max {
		return &model.TooLongError{Length: n, Max: max}
	}
	return nil
}
