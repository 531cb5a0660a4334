package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// extractHostAliases returns the concrete aliases named on Host lines, in
// order of appearance. Patterns with * or ? and negations are skipped, and
// every other directive is ignored.
func extractHostAliases(config string) []string {
	var hosts []string
	seen := make(map[string]bool)

	for line := range strings.SplitSeq(config, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Host") {
			continue
		}

		for _, alias := range fields[1:] {
			if strings.HasPrefix(alias, "#") {
				break
			}
			if strings.ContainsAny(alias, "*?") || strings.HasPrefix(alias, "!") {
				continue
			}
			if !seen[alias] {
				seen[alias] = true
				hosts = append(hosts, alias)
			}
		}
	}
	return hosts
}

// readSSHConfig returns path and every file it pulls in through Include,
// concatenated. Relative includes resolve against ~/.ssh like ssh does.
// Files already read are skipped so include cycles terminate.
func readSSHConfig(path, sshDir string, visited map[string]bool) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if visited[absPath] {
		return "", nil
	}
	visited[absPath] = true

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.Write(content)
	buf.WriteString("\n")

	for line := range strings.SplitSeq(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Include") {
			continue
		}

		for _, pattern := range fields[1:] {
			matches, err := filepath.Glob(expandIncludePath(pattern, sshDir))
			if err != nil {
				continue
			}
			for _, match := range matches {
				if included, err := readSSHConfig(match, sshDir, visited); err == nil {
					buf.WriteString(included)
				}
			}
		}
	}
	return buf.String(), nil
}

func expandIncludePath(pattern, sshDir string) string {
	if rest, ok := strings.CutPrefix(pattern, "~/"); ok {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, rest)
		}
	}
	if filepath.IsAbs(pattern) {
		return pattern
	}
	return filepath.Join(sshDir, pattern)
}

// sshHostCompletionFunc completes host aliases from ~/.ssh/config.
func sshHostCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	sshDir := filepath.Join(homeDir, ".ssh")

	config, err := readSSHConfig(filepath.Join(sshDir, "config"), sshDir, make(map[string]bool))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var hosts []string
	for _, host := range extractHostAliases(config) {
		if strings.HasPrefix(host, toComplete) {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts, cobra.ShellCompDirectiveNoFileComp
}
