package main

import (
	"bufio"
	"strings"

	"github.com/queuey-io/queuey/internal/auth"
)

// parseKeyTable parses a flat "key=application_name" per-line file into
// an auth.KeyTable. Blank lines and lines starting with "#" are ignored.
func parseKeyTable(data string) auth.KeyTable {
	table := auth.KeyTable{}
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		table[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return table
}
