package moderation

import (
	"bufio"
	"chat-relay/errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadWords reads one censored word per line. Blank lines and lines starting with '#' are skipped,
// duplicates are kept once.
func LoadWords(r io.Reader) ([]string, error) {
	unique := make(map[string]struct{})
	words := make([]string, 0)

	// bufio handles \n and \r\n alike
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := unique[line]; ok {
			continue
		}
		unique[line] = struct{}{}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	return words, nil
}

func LoadWordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	defer f.Close()
	return LoadWords(f)
}
