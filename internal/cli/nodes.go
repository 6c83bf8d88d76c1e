package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cworks/treefs-sub001/pkg/client"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/tree"
)

func newLsCmd(g *globalFlags) *cobra.Command {
	var (
		f      storage.Filter
		filter string
		depth  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Long: `List the children of a folder, or print its subtree with --depth.

--filter takes glob patterns separated by "|"; a child is listed when any
pattern matches its name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := argOr(args, 0, "")
			c := g.client()
			out := cmd.OutOrStdout()

			if depth > 1 {
				root, err := c.GetNode(cmd.Context(), path, depth)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, root)
				}
				return printTree(out, root)
			}

			f.Patterns = storage.ParsePatterns(filter)
			children, err := c.List(cmd.Context(), path, f)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, children)
			}
			for _, n := range children {
				fmt.Fprintln(out, formatNode(n))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.FilesOnly, "files", false, "list files only")
	cmd.Flags().BoolVar(&f.FoldersOnly, "folders", false, "list folders only")
	cmd.Flags().StringVar(&filter, "filter", "", `name patterns, e.g. "*.csv|*.txt"`)
	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "levels to print; above 1 prints a tree")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.MarkFlagsMutuallyExclusive("files", "folders")
	return cmd
}

func newMkdirCmd(g *globalFlags) *cobra.Command {
	var (
		opts client.FolderOptions
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			opts.Metadata = md
			n, err := g.client().CreateFolder(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNode(n))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "folder description")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata entry key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing node")
	cmd.Flags().BoolVar(&opts.ForceDelete, "force", false, "with --overwrite, also remove an existing folder's contents")
	return cmd
}

func newPutCmd(g *globalFlags) *cobra.Command {
	var (
		opts client.UploadOptions
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			opts.Metadata = md

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := g.client().Upload(cmd.Context(), args[1], r, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNode(n))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "file description")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata entry key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Checksum, "checksum", "", "expected "+storage.ChecksumAlgorithm+" of the content")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "", "content type; sniffed when empty")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> [local-file]",
		Short: "Download a file to a local file or stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := g.client().Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer rc.Close()

			w := cmd.OutOrStdout()
			if len(args) == 2 {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = io.Copy(w, rc)
			return err
		},
	}
}

func newCopyCmd(g *globalFlags, move bool) *cobra.Command {
	var recursive, into, replace bool
	use, short := "cp", "Copy a file or folder"
	if move {
		use, short = "mv", "Move a file or folder"
	}
	cmd := &cobra.Command{
		Use:   use + " <source> <target>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []storage.CopyOption
			if recursive {
				opts = append(opts, storage.Recursive)
			}
			if into {
				opts = append(opts, storage.Into)
			}
			if replace {
				opts = append(opts, storage.ReplaceExisting)
			}

			c := g.client()
			transfer := c.Copy
			if move {
				transfer = c.Move
			}
			n, err := transfer(cmd.Context(), args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatNode(n))
			return nil
		},
	}
	if !move {
		cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy a folder's whole subtree")
	}
	cmd.Flags().BoolVar(&into, "into", false, "treat target as the destination folder and keep the source name")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace an existing target")
	return cmd
}

func newRmCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Trash a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.client().Trash(cmd.Context(), args[0], force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove a folder with its contents")
	return cmd
}

func newMetaCmd(g *globalFlags) *cobra.Command {
	var (
		set         []string
		unset       []string
		description string
	)
	cmd := &cobra.Command{
		Use:   "meta <path>",
		Short: "Show or update a node's metadata",
		Long: `Print the metadata map of a node, or patch it with --set, --unset and
--description. Values given to --set are parsed as JSON when possible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			out := cmd.OutOrStdout()

			if len(set) == 0 && len(unset) == 0 && description == "" {
				md, err := c.Metadata(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, md)
			}

			md, err := parseMetadata(set)
			if err != nil {
				return err
			}
			for _, k := range unset {
				if md == nil {
					md = models.Metadata{}
				}
				md[k] = nil
			}
			n, err := c.UpdateMetadata(cmd.Context(), args[0], description, md)
			if err != nil {
				return err
			}
			return printJSON(out, n.Metadata)
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "set key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "remove key (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "replace the description")
	return cmd
}

// parseMetadata turns key=value pairs into a metadata map. Values that
// parse as JSON keep their type; anything else is a string.
func parseMetadata(pairs []string) (models.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(models.Metadata, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		md[k] = parsed
	}
	return md, nil
}

func formatNode(n *models.Node) string {
	if n.IsFolder() {
		return fmt.Sprintf("d %10s  %s/", "-", n.Path)
	}
	return fmt.Sprintf("f %10d  %s", n.Size, n.Path)
}

func printTree(w io.Writer, root *models.Node) error {
	base := len(paths.Split(root.Path))
	return tree.Walk(root, func(n *models.Node) error {
		level := len(paths.Split(n.Path)) - base
		label := n.Name
		if n == root {
			label = formatNode(n)
		} else if n.IsFolder() {
			label += "/"
		}
		_, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", level), label)
		return err
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}
