package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/text/language"
)

// Command runs a local speech-to-text program that prints the transcript
// on stdout, e.g. "whisper-cli -m ggml-base.bin -nt -l {lang} -f {input}".
// {input} is replaced by the audio path and {lang} by the two-letter code
// ("auto" without a hint).
type Command struct {
	argv []string
}

// NewCommand parses a whitespace-separated command template.
func NewCommand(template string) (*Command, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, errors.New("empty transcription command")
	}
	if !strings.Contains(template, "{input}") {
		argv = append(argv, "{input}")
	}
	return &Command{argv: argv}, nil
}

func (c *Command) Transcribe(ctx context.Context, audioPath string, lang language.Tag) (string, error) {
	code := isoCode(lang)
	if code == "" {
		code = "auto"
	}
	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		a = strings.ReplaceAll(a, "{input}", audioPath)
		args[i] = strings.ReplaceAll(a, "{lang}", code)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("%s failed: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("run %s: %w", args[0], err)
	}
	text := strings.Join(strings.Fields(string(out)), " ")
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
