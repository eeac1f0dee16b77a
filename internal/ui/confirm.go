package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm prints a yes/no question to out and reads the answer from in.
// Only "y" and "yes" count as yes.
func Confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", StyleWarning.Render(prompt))
	return readYes(in)
}

// ConfirmDanger is like Confirm but styled with the error color (for destructive actions).
func ConfirmDanger(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", StyleError.Render("⚠ "+prompt))
	return readYes(in)
}

func readYes(in io.Reader) bool {
	line, _ := bufio.NewReader(in).ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

// PromptInput prints prompt and returns the trimmed line typed by the user.
func PromptInput(in io.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "%s: ", StyleInfo.Render(prompt))
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}
