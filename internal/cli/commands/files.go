package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/pkg/facade"
	"github.com/marmos91/dittostore/pkg/storage"
)

func newPutCmd(opts *globalOptions) *cobra.Command {
	var (
		contentType string
		tags        []string
		meta        map[string]string
		asVersion   bool
		base        string
	)

	cmd := &cobra.Command{
		Use:   "put <storage> <name> [file]",
		Short: "Store a file, reading stdin when no file is given",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 3 {
				data, err = os.ReadFile(args[2])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read content: %w", err)
			}

			if contentType == "" {
				contentType = detectContentType(args[1], data)
			}
			put := facade.PutOptions{ContentType: contentType, Tags: tags, Custom: meta}
			key := storage.FileKey{Storage: args[0], Name: args[1]}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var res *facade.PutResult
				if asVersion {
					res, err = a.facade.CreateVersion(ctx, key, data, facade.CreateVersionOptions{PutOptions: put, BaseVersionID: base})
				} else {
					res, err = a.facade.Put(ctx, key, data, put)
				}
				if err != nil {
					return err
				}

				m := res.Metadata
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s v%d (%s, %d bytes", m.Key(), m.Version, m.VersionID, m.Size)
				if res.Duplicate {
					fmt.Fprint(cmd.OutOrStdout(), ", deduplicated")
				}
				fmt.Fprintln(cmd.OutOrStdout(), ")")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type (detected from the name when empty)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "custom metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&asVersion, "new-version", false, "fail with a conflict instead of racing another writer")
	cmd.Flags().StringVar(&base, "base", "", "version id the new version builds on (with --new-version)")
	return cmd
}

// detectContentType guesses from the extension first, then from the bytes.
func detectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return ""
	}
	return http.DetectContentType(data)
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	var (
		versionID string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "get <storage> <name>",
		Short: "Write the content of a file to stdout or to --output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := storage.FileKey{Storage: args[0], Name: args[1]}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					data []byte
					err  error
				)
				if versionID != "" {
					data, _, err = a.facade.GetVersion(ctx, key, versionID)
				} else {
					data, _, err = a.facade.Get(ctx, key)
				}
				if err != nil {
					return err
				}

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0644)
			})
		},
	}

	cmd.Flags().StringVar(&versionID, "version", "", "read this version instead of the head")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// listFlags are the filters shared by ls and search.
type listFlags struct {
	prefix      string
	tags        []string
	contentType string
	pattern     string
	deleted     bool
	asJSON      bool
}

func (l *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.prefix, "prefix", "", "only names starting with this prefix")
	cmd.Flags().StringSliceVar(&l.tags, "tag", nil, "required tag (repeatable)")
	cmd.Flags().StringVar(&l.contentType, "content-type", "", "exact content type")
	cmd.Flags().StringVar(&l.pattern, "name", "", "case-insensitive substring of the name")
	cmd.Flags().BoolVar(&l.deleted, "deleted", false, "include files in the trash")
	cmd.Flags().BoolVar(&l.asJSON, "json", false, "print JSON")
}

func (l *listFlags) query(text string) facade.SearchQuery {
	return facade.SearchQuery{
		Query:          text,
		Tags:           l.tags,
		ContentType:    l.contentType,
		NamePattern:    l.pattern,
		Prefix:         l.prefix,
		IncludeDeleted: l.deleted,
	}
}

func newLsCmd(opts *globalOptions) *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "ls <storage>",
		Short: "List the files of a storage by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				files, err := a.facade.List(ctx, args[0], flags.query(""))
				if err != nil {
					return err
				}
				return printFiles(cmd.OutOrStdout(), files, flags.asJSON)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "search <storage> [query]",
		Short: "Search files by name, metadata, tags or content type",
		Long: `Search the files of a storage. The optional query matches the file name
and custom metadata keys and values, ignoring case. Results are ordered by
last update, most recent first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.facade.Search(ctx, args[0], flags.query(text))
				if err != nil {
					return err
				}
				return printFiles(cmd.OutOrStdout(), res.Results, flags.asJSON)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newVersionsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "versions <storage> <name>",
		Short: "List every version of a file, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := storage.FileKey{Storage: args[0], Name: args[1]}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				versions, err := a.facade.ListVersions(ctx, key)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), versions)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tID\tPARENT\tSIZE\tHASH\tCREATED")
				for _, v := range versions {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
						v.Version, v.VersionID, orDash(v.ParentVersionID), v.Size, shortHash(v.ContentHash), v.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newRestoreCmd(opts *globalOptions) *cobra.Command {
	var versionID string

	cmd := &cobra.Command{
		Use:   "restore <storage> <name>",
		Short: "Take a file out of the trash, or make an old version current with --version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := storage.FileKey{Storage: args[0], Name: args[1]}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if versionID != "" {
					res, err := a.facade.RestoreVersion(ctx, key, versionID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Restored %s as v%d (%s)\n", key, res.Metadata.Version, res.Metadata.VersionID)
					return nil
				}

				if _, err := a.facade.Restore(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from the trash\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "version id to make current")
	return cmd
}

func newRmCmd(opts *globalOptions) *cobra.Command {
	var (
		permanent bool
		versionID string
	)

	cmd := &cobra.Command{
		Use:   "rm <storage> <name>",
		Short: "Move a file to the trash, or purge it with --permanent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if permanent && versionID != "" {
				return fmt.Errorf("--permanent and --version are mutually exclusive")
			}
			key := storage.FileKey{Storage: args[0], Name: args[1]}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				switch {
				case versionID != "":
					if err := a.facade.DeleteVersion(ctx, key, versionID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted version %s of %s\n", versionID, key)
				case permanent:
					n, err := a.facade.PermanentDelete(ctx, key)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Purged %s (%d version(s))\n", key, n)
				default:
					if _, err := a.facade.Delete(ctx, key); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to the trash\n", key)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "purge every version instead of using the trash")
	cmd.Flags().StringVar(&versionID, "version", "", "delete only this version")
	return cmd
}

func newTrashCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect or empty the trash of a storage",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list <storage>",
		Short: "List the files in the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				files, err := a.facade.Trash(ctx, args[0])
				if err != nil {
					return err
				}
				return printFiles(cmd.OutOrStdout(), files, asJSON)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	empty := &cobra.Command{
		Use:   "empty <storage>",
		Short: "Permanently delete every file in the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.facade.EmptyTrash(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d file(s)\n", len(res.Succeeded))
				for _, f := range res.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed to purge %s: %s\n", f.Name, f.Error)
				}
				return res.Err()
			})
		},
	}

	cmd.AddCommand(list, empty)
	return cmd
}

func printFiles(w io.Writer, files []*storage.FileMetadata, asJSON bool) error {
	if asJSON {
		if files == nil {
			files = []*storage.FileMetadata{}
		}
		return writeJSON(w, files)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSIZE\tTYPE\tTAGS\tUPDATED")
	for _, f := range files {
		name := f.Name
		if f.IsDeleted {
			name += " (deleted)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			name, f.Version, f.Size, orDash(f.ContentType), orDash(strings.Join(f.Tags, ",")), f.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
