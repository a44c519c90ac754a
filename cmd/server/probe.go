package main

import (
	"fmt"

	"hls-gateway/internal/orchestrator"
	"hls-gateway/internal/platform/logger"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url>",
		Short: "Resolve a source without transcoding it",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), settings.LogLevel, "text")

	u, err := orchestrator.ValidateSourceURL(args[0])
	if err != nil {
		return err
	}
	tool := orchestrator.NewSourceTool(orchestrator.ExecRunner{}, orchestrator.SourceToolConfig{
		Binary:  settings.Resolver.Binary,
		Format:  settings.Resolver.Format,
		Timeout: settings.Resolver.Timeout,
	}, log)

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	id := orchestrator.DeriveStreamID(u)
	fmt.Fprintf(out, "Id: %s\n", id)
	fmt.Fprintf(out, "Playlist: %s\n", id.PlaylistURL())
	fmt.Fprintf(out, "Live: %t\n", tool.IsLive(ctx, u.String()))

	media, err := tool.MediaURL(ctx, u.String())
	if err != nil {
		return fmt.Errorf("failed to resolve media: %w", err)
	}
	fmt.Fprintf(out, "Media: %s\n", media)
	return nil
}
