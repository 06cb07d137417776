package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile reads path and sets environment variables for each "KEY=value"
// line. Skips blanks and #-comments; an optional "export " prefix is
// accepted so a sourced shell file works unchanged. Missing file is not an
// error. Values already present in the environment are NOT overridden, so
// real env always wins over the .env file.
func LoadEnvFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		os.Setenv(key, unquote(strings.TrimSpace(line[idx+1:])))
	}
	return sc.Err()
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
