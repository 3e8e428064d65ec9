package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/catalog"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/dump"
	"github.com/arloliu/go-astm/journal"
)

func newJournalCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the outcome journal",
	}
	cmd.PersistentFlags().StringVar(&dir, "journal-dir", "", "journal directory")
	_ = cmd.MarkPersistentFlagRequired("journal-dir")

	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled batches in commit order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.Open(dir)
			if err != nil {
				return err
			}
			defer j.Close()

			return listJournal(cmd.OutOrStdout(), j)
		},
	}

	show := &cobra.Command{
		Use:   "show <fingerprint>",
		Short: "Show the latest outcome of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := dispatch.ParseFingerprint(args[0])
			if err != nil {
				return err
			}

			j, err := journal.Open(dir)
			if err != nil {
				return err
			}
			defer j.Close()

			e, err := j.Lookup(fp)
			if err != nil {
				return err
			}

			return printEntry(cmd.OutOrStdout(), e)
		},
	}

	cmd.AddCommand(list, show)

	return cmd
}

func listJournal(w io.Writer, j *journal.Journal) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMITTED\tFINGERPRINT\tPATIENT\tPRIVATE\tRESULTS\tERROR")

	err := j.Range(func(e *journal.Entry) bool {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n",
			e.CommittedAt.Format(time.RFC3339), e.Fingerprint.String()[:16], e.Patient, e.Private, len(e.Results), e.Error)
		return true
	})
	if err != nil {
		return err
	}

	return tw.Flush()
}

func printEntry(w io.Writer, e *journal.Entry) error {
	fmt.Fprintf(w, "fingerprint: %s\npatient:     %s\ncommitted:   %s\nprivate:     %t\n",
		e.Fingerprint, e.Patient, e.CommittedAt.Format(time.RFC3339Nano), e.Private)
	if e.LabNote != "" {
		fmt.Fprintf(w, "lab note:    %s\n", e.LabNote)
	}
	if e.BillingNote != "" {
		fmt.Fprintf(w, "billing:     %s\n", e.BillingNote)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "error:       %s\n", e.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSEQ\tANALYTE\tSTATUS\tPOSITION\tREASON")
	for _, r := range e.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Analyte, r.Status, r.Position, r.Reason)
	}

	return tw.Flush()
}

func newDumpCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Inspect raw connection dumps",
	}

	cat := &cobra.Command{
		Use:   "cat <file>",
		Short: "Print a dump, decompressing it and rendering control characters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := dump.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if raw {
				_, err = io.Copy(cmd.OutOrStdout(), r)
				return err
			}

			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}

			_, err = io.WriteString(cmd.OutOrStdout(), renderControl(data))

			return err
		},
	}
	cat.Flags().BoolVar(&raw, "raw", false, "write the bytes unchanged")

	cmd.AddCommand(cat)

	return cmd
}

var controlNames = map[byte]string{
	astm.STX: "<STX>",
	astm.ETX: "<ETX>",
	astm.EOT: "<EOT>\n",
	astm.ENQ: "<ENQ>",
	astm.ACK: "<ACK>",
	astm.NAK: "<NAK>",
	astm.ETB: "<ETB>",
	astm.CR:  "<CR>",
	astm.LF:  "<LF>\n",
}

// renderControl replaces framing characters with readable names.
func renderControl(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if name, ok := controlNames[b]; ok {
			sb.WriteString(name)
			continue
		}
		if b < ' ' || b == 0x7F {
			fmt.Fprintf(&sb, "<%02X>", b)
			continue
		}
		sb.WriteByte(b)
	}

	return sb.String()
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with catalog files",
	}

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			if len(cat.Templates) == 0 {
				return errors.New("catalog has no templates")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d templates, %d fee positions, %d patients\n",
				len(cat.Templates), len(cat.Positions), len(cat.Patients))

			return nil
		},
	}

	cmd.AddCommand(check)

	return cmd
}
