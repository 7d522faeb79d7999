package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forPelevin/autoshort/internal/pipeline"
	"github.com/forPelevin/autoshort/internal/server"
)

const runTimeout = 3 * time.Hour

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := newViper()
	var configPath string

	root := &cobra.Command{
		Use:          "autoshort <video>",
		Short:        "Assemble a captioned short from a raw recording and a brief",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, configPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, v, args[0], newLogger(stderr))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceErrors = true

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().String("music-dir", "", "Background music directory")
	root.PersistentFlags().String("effects-dir", "", "Sound effect directory")
	root.PersistentFlags().String("out", "", "Output directory")
	_ = v.BindPFlag("music_dir", root.PersistentFlags().Lookup("music-dir"))
	_ = v.BindPFlag("effects_dir", root.PersistentFlags().Lookup("effects-dir"))
	_ = v.BindPFlag("out_dir", root.PersistentFlags().Lookup("out"))

	root.Flags().String("brief", "", "Content description the script is written from")
	_ = root.MarkFlagRequired("brief")
	root.Flags().String("narration-on-failure", "", "abort or continue when narration fails")
	_ = v.BindPFlag("narration.on_failure", root.Flags().Lookup("narration-on-failure"))

	// Hidden tuning flags
	root.Flags().Duration("window", 0, "Footage per clip")
	root.Flags().Uint64("seed", 0, "Random seed for reproducible runs")
	_ = root.Flags().MarkHidden("window")
	_ = root.Flags().MarkHidden("seed")
	_ = v.BindPFlag("window", root.Flags().Lookup("window"))
	_ = v.BindPFlag("seed", root.Flags().Lookup("seed"))

	root.AddCommand(newServeCmd(v, stderr))
	return root
}

func runOnce(cmd *cobra.Command, v *viper.Viper, input string, log zerolog.Logger) error {
	brief, _ := cmd.Flags().GetString("brief")
	if strings.TrimSpace(brief) == "" {
		return errors.New("--brief is empty")
	}
	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}

	cfg, err := pipelineConfig(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Log = log
	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	res := p.AssembleShort(ctx, absIn, brief)
	for _, w := range res.Warnings {
		log.Warn().Msg(w)
	}
	if !res.OK {
		return errors.New(res.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "output: %s\n\n%s\n", res.OutputPath, res.Script)
	return nil
}

func newServeCmd(v *viper.Viper, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve short assembly over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(stderr)
			cfg, err := pipelineConfig(v)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cfg.Log = log
			p, err := pipeline.New(cfg)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := server.New(server.Config{
				Addr:      v.GetString("server.addr"),
				UploadDir: v.GetString("server.upload_dir"),
				MaxUpload: v.GetInt64("server.max_upload"),
			}, p, log)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	cmd.Flags().String("upload-dir", "", "Directory for uploaded videos")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.upload_dir", cmd.Flags().Lookup("upload-dir"))
	return cmd
}
