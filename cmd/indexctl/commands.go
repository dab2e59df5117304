package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var reg registry.Registration
	cmd := &cobra.Command{
		Use:   "register <alias>",
		Short: "Register a source tree; omit --url for the meta-directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.AliasName = args[0]
			svc, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.Close()

			entry, err := svc.Registry.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			if entry.IndexPath != "" {
				if err := svc.Aliases.Create(entry.AliasName, entry.IndexPath); err != nil && !errors.Is(err, apperrors.ErrAliasExists) {
					return err
				}
			}
			return opts.print(cmd.OutOrStdout(), entry, func(w io.Writer) {
				fmt.Fprintf(w, "registered %s (%s)\n", entry.AliasName, entry.Upstream().Kind)
			})
		},
	}
	cmd.Flags().StringVar(&reg.Name, "name", "", "display name (defaults to the alias)")
	cmd.Flags().StringVar(&reg.RepoURL, "url", "", "upstream git URL")
	cmd.Flags().StringVar(&reg.ClonePath, "source", "", "local clone or meta-directory path")
	cmd.Flags().StringVar(&reg.IndexPath, "index-path", "", "existing index version to serve until the first refresh")
	cmd.Flags().BoolVar(&reg.EnableTemporal, "temporal", false, "build the temporal index")
	cmd.Flags().BoolVar(&reg.EnableSCIP, "scip", false, "build the SCIP index")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered indexes and their live versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.Registry.List(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ALIAS\tUPSTREAM\tTEMPORAL\tSCIP\tLIVE\tLAST REFRESH")
				for _, e := range entries {
					live, err := svc.Aliases.Read(e.AliasName)
					if err != nil {
						live = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s\n",
						e.AliasName, e.Upstream().Kind, e.EnableTemporal, e.EnableSCIP, live,
						e.LastRefresh.Format(time.RFC3339))
				}
				tw.Flush()
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "refresh <alias>...",
		Short: "Run a refresh cycle now for each alias",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context(), notify)
			if err != nil {
				return err
			}
			defer svc.Close()

			type result struct {
				Alias   string `json:"alias"`
				Outcome string `json:"outcome"`
				Error   string `json:"error,omitempty"`
			}
			var (
				results []result
				failed  int
			)
			for _, name := range args {
				outcome, err := svc.Scheduler.RefreshRepo(cmd.Context(), name)
				r := result{Alias: name, Outcome: outcome.String()}
				if err != nil {
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}
			// Versions retired by this process are reclaimed before exit when
			// nothing else pins them.
			svc.Cleanup.Reap(context.WithoutCancel(cmd.Context()))

			if err := opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(w, "%s: %s (%s)\n", r.Alias, r.Outcome, r.Error)
						continue
					}
					fmt.Fprintf(w, "%s: %s\n", r.Alias, r.Outcome)
				}
			}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refreshes failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", true, "send swap notifications configured for the service")
	return cmd
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <alias>",
		Short: "Correct the temporal and SCIP flags against the live version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.Scheduler.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", args[0], describe(st))
			})
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <alias>",
		Short: "Print the version directory queries for alias would read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.Resolver.WithIndex(cmd.Context(), args[0], func(ctx context.Context, path string) error {
				st, err := svc.Layout.Detect(path)
				if err != nil {
					return err
				}
				view := struct {
					Path      string       `json:"path"`
					Artifacts layout.State `json:"artifacts"`
				}{path, st}
				return opts.print(cmd.OutOrStdout(), view, func(w io.Writer) {
					fmt.Fprintf(w, "%s\t%s\n", path, describe(st))
				})
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show alias pointers and version directories awaiting cleanup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.Close()

			pointers, err := svc.Aliases.List()
			if err != nil {
				return err
			}
			// A fresh process has no pending set of its own; orphans are
			// what a running service would queue at startup.
			if _, err := svc.Scheduler.RecoverOrphans(cmd.Context()); err != nil {
				return err
			}
			orphans := svc.Cleanup.Pending()

			view := struct {
				Aliases any      `json:"aliases"`
				Orphans []string `json:"orphans"`
			}{pointers, orphans}
			return opts.print(cmd.OutOrStdout(), view, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ALIAS\tTARGET\tLAST REFRESH")
				for _, p := range pointers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Alias, p.TargetPath, p.LastRefresh.Format(time.RFC3339))
				}
				tw.Flush()
				fmt.Fprintf(w, "\n%d orphaned version(s)\n", len(orphans))
				for _, o := range orphans {
					fmt.Fprintf(w, "  %s\n", o)
				}
			})
		},
	}
}

func describe(st layout.State) string {
	var parts []string
	for _, a := range []struct {
		name string
		ok   bool
	}{{"semantic", st.Semantic}, {"fts", st.FTS}, {"temporal", st.Temporal}, {"scip", st.SCIP}} {
		if a.ok {
			parts = append(parts, a.name)
		}
	}
	if len(parts) == 0 {
		return "no artifacts"
	}
	return strings.Join(parts, ",")
}
