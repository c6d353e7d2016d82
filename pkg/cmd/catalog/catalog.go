package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	kcatalog "github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/cmd/options"
)

const (
	CmdName = "catalog"

	OutputText = "text"
	OutputYAML = "yaml"
	OutputJSON = "json"
)

var ErrBadOutput = errors.New("unsupported output format")

type Options struct {
	exe    string
	output string

	*options.Options
}

// Entry is a subsystem with the offset of its symbol, when resolved.
type Entry struct {
	kcatalog.Subsystem `yaml:",inline"`
	Offset             *uint64 `yaml:"offset,omitempty" json:"offset,omitempty"`
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             "List the accounted subsystems",
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}
	cmd.Flags().StringVar(&o.exe, "exe", "", "Resolve the subsystem symbols in this ELF executable")
	cmd.Flags().StringVarP(&o.output, "output", "o", OutputText, "Output format (text, yaml, json)")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	cfg, err := o.Init(cmd)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}

	entries, err := o.entries(cat)
	if err != nil {
		return err
	}

	return Print(cmd.OutOrStdout(), o.output, entries)
}

func (o *Options) entries(cat *kcatalog.Catalog) ([]Entry, error) {
	var offsets map[uint16]uint64
	if o.exe != "" {
		resolved, missing, err := cat.Resolve(o.exe)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve symbols")
		}
		if len(missing) > 0 {
			o.Logger.Warn().Strs("subsystems", missing).Str("exe", o.exe).Msg("symbols not found")
		}
		offsets = make(map[uint16]uint64, len(resolved))
		for id, off := range resolved {
			offsets[uint16(id)] = off
		}
	}

	all := cat.All()
	entries := make([]Entry, 0, len(all))
	for _, s := range all {
		e := Entry{Subsystem: s}
		if off, ok := offsets[uint16(s.ID)]; ok {
			e.Offset = &off
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Print writes entries in the given format.
func Print(w io.Writer, format string, entries []Entry) error {
	switch format {
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case OutputText:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPSEUDO\tSYMBOL\tOFFSET")
		for _, e := range entries {
			off := "-"
			if e.Offset != nil {
				off = fmt.Sprintf("0x%x", *e.Offset)
			}
			sym := e.Symbol
			if sym == "" {
				sym = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", e.ID, e.Name, e.Pseudo, sym, off)
		}
		return tw.Flush()
	}

	return errors.Wrapf(ErrBadOutput, "%q", format)
}
