package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/filehaven/cmisync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	// cmisync
	"cmisyncignore",
	".cmisync/",
	"**/*.cmisync.tmp.*",
	"*\\(conflict*", // '(' escaped: the matcher compiles patterns to regexps
	// general excludes
	".git",
	"*.tmp",
	"*.swp",
	"*~",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// SyncIgnoreList filters hidden, temporary and locally-excluded names out
// of the pipeline.
type SyncIgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewSyncIgnoreList(baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{baseDir: baseDir}
}

// Load compiles the default rules plus the optional cmisyncignore file at
// the root of the sync dir.
func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, "cmisyncignore")
	ignoreLines := defaultIgnoreLines

	if utils.FileExists(ignorePath) {
		rules := 0
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open cmisyncignore", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("error reading cmisyncignore", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded cmisyncignore", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a canonical name against the rules. Hidden dotfile
// segments are excluded regardless of the rule set.
func (s *SyncIgnoreList) ShouldIgnore(name string) bool {
	for _, seg := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	if s.ignore == nil {
		return false
	}
	return s.ignore.MatchesPath(strings.TrimSuffix(name, "/"))
}
