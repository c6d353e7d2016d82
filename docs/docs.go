//go:build docs

// Command docs renders the CLI reference: a markdown page per command under
// docs/, man pages under docs/man, and the root page spliced into README.md
// from README.md.tpl.
package main

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra/doc"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd"
)

const (
	docsDir        = "docs"
	manSection     = "1"
	readmeTemplate = "README.md.tpl"
	templateMarker = "{{ .CLI_REFERENCE }}"
)

func main() {
	logger := log.New(log.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := generate(logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate docs")
	}
}

func generate(logger log.Logger) error {
	root := cmd.NewCommand(cmd.NewOptions(cmd.WithLogger(logger)))

	link := func(name string) string {
		if name == settings.CmdName+".md" {
			return "README.md"
		}
		return path.Join(docsDir, name)
	}
	if err := doc.GenMarkdownTreeCustom(root, docsDir, func(string) string { return "" }, link); err != nil {
		return errors.Wrap(err, "failed to render markdown")
	}

	manDir := filepath.Join(docsDir, "man")
	if err := os.MkdirAll(manDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create man directory")
	}
	header := &doc.GenManHeader{Title: strings.ToUpper(settings.CmdName), Section: manSection}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		return errors.Wrap(err, "failed to render man pages")
	}

	tpl, err := os.ReadFile(readmeTemplate)
	if os.IsNotExist(err) {
		logger.Info().Msg("no README template, skipping README")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read README template")
	}
	ref, err := os.ReadFile(filepath.Join(docsDir, settings.CmdName+".md"))
	if err != nil {
		return errors.Wrap(err, "failed to read the root command page")
	}
	readme := strings.Replace(string(tpl), templateMarker, string(ref), 1)

	return os.WriteFile("README.md", []byte(readme), 0644)
}
