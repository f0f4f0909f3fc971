package main

import (
	"fmt"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/gitio"
	"github.com/statisticsnorway/blueprint/internal/ingest"
	"github.com/statisticsnorway/blueprint/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newImportCmd(opts *options) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "import <remote>",
		Short: "Clone a remote and import a range of its commits",
		Long: `Clone or fetch a remote and store every commit after --from up to and
including --to, oldest first. Without --from the whole history of --to is
imported. Commits that fail are reported and skipped.

Examples:
  blueprint import https://github.com/statisticsnorway/blueprint-test
  blueprint import https://github.com/statisticsnorway/blueprint-test --from v1.0 --to master`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.db.Close()

			ctx := cmd.Context()
			src, err := svc.store.Source(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := svc.pipeline.Import(ctx, src, from, to, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d commits\n", len(res.Synced))
			for _, f := range res.Failed {
				fmt.Fprintf(out, "failed   %s: %v\n", f.Commit, f.Err)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d commits failed", len(res.Failed), len(res.Failed)+len(res.Synced))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "exclusive start revision (default: root)")
	cmd.Flags().StringVar(&to, "to", "HEAD", "inclusive end revision")
	return cmd
}

type parsedFile struct {
	Path    string   `json:"path"`
	Change  string   `json:"change"`
	BlobID  string   `json:"blobId"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

type parsedCommit struct {
	Repository string       `json:"repository"`
	Commit     string       `json:"commit"`
	Message    string       `json:"message"`
	Files      []parsedFile `json:"files"`
}

func newParseCmd(opts *options) *cobra.Command {
	var (
		commit string
		ignore []string
		uri    string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "parse [path]",
		Short: "Parse one commit of a local working copy",
		Long: `Check out a commit of an existing working copy, classify its notebooks and
print their declared inputs and outputs as JSON. The working copy is
left at that commit.

With --save the commit is also stored in the graph database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cfg.Ignore = append(cfg.Ignore, ignore...)
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			src, err := gitio.Open(dir)
			if err != nil {
				return err
			}
			if uri == "" {
				abs, err := filepath.Abs(src.WorkDir())
				if err != nil {
					return err
				}
				uri = abs
			}

			ctx := cmd.Context()
			var c *model.Commit
			if save {
				svc, err := openServices(cfg, logger)
				if err != nil {
					return err
				}
				defer svc.db.Close()
				if c, err = svc.pipeline.Sync(ctx, src, commit, uri, ingest.TriggerCLI); err != nil {
					return err
				}
			} else {
				_, c, err = newProcessor(cfg, logger).Process(ctx, src, commit, uri)
				if err != nil {
					logger.Error("parsing commit",
						zap.String("commit", commit),
						zap.String("repository", uri),
						zap.String("workdir", src.WorkDir()),
						zap.Error(err))
					return err
				}
			}

			out := parsedCommit{Repository: model.NormalizeURI(uri), Commit: c.ID, Message: c.Message}
			for _, f := range c.Files() {
				out.Files = append(out.Files, parsedFile{
					Path:    f.Path,
					Change:  f.Change.Label(),
					BlobID:  f.Notebook.BlobID,
					Inputs:  f.Notebook.Inputs.Paths(),
					Outputs: f.Notebook.Outputs.Paths(),
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&commit, "commit", "HEAD", "revision to parse")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "folder names to skip (repeatable)")
	cmd.Flags().StringVar(&uri, "repository", "", "remote address to record (default: absolute path of the working copy)")
	cmd.Flags().BoolVar(&save, "save", false, "store the commit in the graph database")
	return cmd
}

func newPurgeCmd(opts *options) *cobra.Command {
	var keepClone bool
	cmd := &cobra.Command{
		Use:   "purge <remote>",
		Short: "Remove a repository and its commits from the graph",
		Long: `Remove a repository, its commits and their file edges from the graph, and
delete its local clone. Notebooks and datasets are kept, since other
repositories may share them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.db.Close()

			id := model.RepositoryID(args[0])
			if err := svc.db.PurgeRepository(cmd.Context(), id); err != nil {
				return err
			}
			if !keepClone {
				if err := svc.store.Forget(id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s (%s)\n", model.NormalizeURI(args[0]), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepClone, "keep-clone", false, "keep the local clone")
	return cmd
}
