package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sagenxt/WorkerConnect-sub001/config"
	"github.com/sagenxt/WorkerConnect-sub001/logging"
	"github.com/sagenxt/WorkerConnect-sub001/packaging"
	"github.com/sagenxt/WorkerConnect-sub001/pipeline"
	"github.com/sagenxt/WorkerConnect-sub001/zip"
)

// cli holds the persistent flags and what PersistentPreRunE builds from them.
type cli struct {
	configPath string
	root       string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "workerconnect",
		Short: "Package the WorkerConnect web app for Android and iOS",
		Long: `workerconnect builds the native Android and iOS packages of the
WorkerConnect web app and publishes them to the public and dist download
directories.

Each platform tries its configured build strategies in order. When no
native toolchain is available a placeholder package is published instead,
together with install instructions (index.html, README.txt).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (default <root>/"+config.DefaultFile+")")
	flags.StringVar(&c.root, "root", "", "project root (default from config, then the working directory)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		c.platformCmd(packaging.Android),
		c.platformCmd(packaging.IOS),
		c.assetsCmd(),
		c.inspectCmd(),
		c.configCmd(),
	)
	return rootCmd
}

func (c *cli) resolvedConfigPath() string {
	if c.configPath != "" {
		return c.configPath
	}
	base := c.root
	if base == "" {
		base = "."
	}
	return filepath.Join(base, config.DefaultFile)
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.resolvedConfigPath())
	if err != nil {
		return err
	}
	if c.root != "" {
		cfg.Paths.Root = c.root
	}
	logger, err := logging.New(cfg.Logging, c.verbose)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) driver() *pipeline.Driver {
	return pipeline.NewDriver(c.cfg, pipeline.NewExecRunner(c.logger), c.logger)
}

func (c *cli) platformCmd(p packaging.Platform) *cobra.Command {
	return &cobra.Command{
		Use:   string(p),
		Short: fmt.Sprintf("Build and publish the %s package", p.Ext()),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.driver().Build(cmd.Context(), p)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func (c *cli) assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "Publish placeholder packages and install docs for every platform",
		Long: `Publish placeholder packages and install docs for every platform
without running any build tools. Useful for web-only deployments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := c.driver().Assets(cmd.Context())
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
			}
			return err
		},
	}
}

func printReport(w io.Writer, r *pipeline.Report) {
	for _, s := range r.Failures() {
		fmt.Fprintf(w, "%s: %s/%s failed: %v\n", r.Platform, s.Strategy, s.Stage, s.Err)
	}
	if len(r.Paths) == 0 {
		return
	}
	if r.Placeholder {
		fmt.Fprintf(w, "%s: published placeholder %s (%d bytes), not installable\n", r.Platform, r.Artifact.FileName, r.Artifact.Size)
	} else {
		fmt.Fprintf(w, "%s: published %s (%d bytes) via %s\n", r.Platform, r.Artifact.FileName, r.Artifact.Size, r.Strategy)
	}
	for _, p := range r.Paths {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "List the entries of a package and verify its layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func inspect(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	a, err := zip.Inspect(file, info.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "%s: %d bytes, %d entries, central directory at %d (%d bytes)\n",
		path, a.Size, len(a.Entries), a.EOCD.CentralDirOffset, a.EOCD.CentralDirSize)
	for i := range a.Entries {
		e := &a.Entries[i]
		status, err := a.CheckCRC(e)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		fmt.Fprintf(w, "  %8d  %8d  %-8s %08x  %-12s %s\n",
			e.DataOffset, e.Central.UncompressedSize, methodName(e.Central.CompressionMethod),
			e.Central.CRC32, status, e.Name())
	}

	for _, g := range a.Gaps() {
		fmt.Fprintf(w, "  gap of %d bytes at %d before %s\n", g.Size, g.Offset, g.Before)
	}

	if err := a.Verify(); err != nil {
		fmt.Fprintln(w, "layout: invalid")
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintln(w, "layout: ok")
	return nil
}

func methodName(m uint16) string {
	switch m {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method%d", m)
	}
}

func (c *cli) configCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the workerconnect configuration file",
		// Skips loading, so a broken file can still be replaced.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}
