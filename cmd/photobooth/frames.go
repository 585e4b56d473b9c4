package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/photobooth/internal/compositor"
	"github.com/fpang/photobooth/internal/config"
	"github.com/fpang/photobooth/internal/frames"
	"github.com/spf13/cobra"
)

var (
	measureIDFlag   string
	measureNameFlag string

	placeholderOutFlag    string
	placeholderTitleFlag  string
	placeholderFooterFlag string
)

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Inspect and prepare frame templates",
}

var framesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the frames in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := catalogFromConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range catalog.All() {
			marker := " "
			if f.Default {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-24s %-12s %4dx%-5d %s\n", marker, f.ID, f.Orientation, f.Width, f.Height, f.Name)
		}
		return nil
	},
}

var framesValidateCmd = &cobra.Command{
	Use:   "validate [catalog.yaml]",
	Short: "Check a catalog and, with frames.assetDir set, its artwork",
	Long: `Validate loads a catalog (the configured one when no path is given) and,
when an asset directory is configured, checks that every frame's artwork
exists and matches the declared canvas size.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFlag, envFileFlag)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Frames.Catalog = args[0]
		}
		catalog, err := loadCatalog(cfg.Frames)
		if err != nil {
			return err
		}
		if err := checkArtwork(cmd.Context(), catalog, cfg.Frames.AssetDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d frames OK\n", catalog.Len())
		return nil
	},
}

var framesMeasureCmd = &cobra.Command{
	Use:   "measure <artwork.png>",
	Short: "Detect the photo windows in frame artwork and print a catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		img, _, err := compositor.Decode(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		asset := filepath.Base(args[0])
		id := measureIDFlag
		if id == "" {
			id = strings.TrimSuffix(strings.TrimPrefix(asset, "frame-"), filepath.Ext(asset))
		}
		name := measureNameFlag
		if name == "" {
			name = id
		}
		d, err := frames.Measure(id, name, asset, img, frames.MeasureOptions{})
		if err != nil {
			return err
		}
		out, err := frames.MarshalYAML(d)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var framesPlaceholderCmd = &cobra.Command{
	Use:   "placeholder [frame-id...]",
	Short: "Write placeholder artwork for catalog frames",
	Long: `Placeholder renders stand-in artwork with transparent windows at each slot,
named after each frame's asset, so a booth can run before real artwork exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := catalogFromConfig()
		if err != nil {
			return err
		}
		selected := catalog.All()
		if len(args) > 0 {
			selected = selected[:0]
			for _, id := range args {
				f, ok := catalog.Lookup(id)
				if !ok {
					return fmt.Errorf("frame not found: %s", id)
				}
				selected = append(selected, f)
			}
		}
		if err := os.MkdirAll(placeholderOutFlag, 0o755); err != nil {
			return err
		}
		for _, f := range selected {
			var buf bytes.Buffer
			if err := png.Encode(&buf, frames.RenderPlaceholder(f, placeholderTitleFlag, placeholderFooterFlag)); err != nil {
				return fmt.Errorf("frame %q: %w", f.ID, err)
			}
			dst := filepath.Join(placeholderOutFlag, filepath.Base(f.Asset))
			if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dst)
		}
		return nil
	},
}

func init() {
	framesMeasureCmd.Flags().StringVar(&measureIDFlag, "id", "", "Frame ID (default: derived from the file name)")
	framesMeasureCmd.Flags().StringVar(&measureNameFlag, "name", "", "Display name (default: the ID)")

	framesPlaceholderCmd.Flags().StringVarP(&placeholderOutFlag, "out", "o", "frames", "Output directory")
	framesPlaceholderCmd.Flags().StringVar(&placeholderTitleFlag, "title", frames.PlaceholderTitle, "Title text")
	framesPlaceholderCmd.Flags().StringVar(&placeholderFooterFlag, "footer", frames.PlaceholderFooter, "Footer text")

	framesCmd.AddCommand(framesListCmd, framesValidateCmd, framesMeasureCmd, framesPlaceholderCmd)
	rootCmd.AddCommand(framesCmd)
}

func catalogFromConfig() (*frames.Catalog, error) {
	cfg, err := config.Load(configFlag, envFileFlag)
	if err != nil {
		return nil, err
	}
	return loadCatalog(cfg.Frames)
}

// checkArtwork verifies each frame's artwork in dir decodes at the declared
// size. An empty dir skips the check.
func checkArtwork(ctx context.Context, catalog *frames.Catalog, dir string) error {
	if dir == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	src := frames.NewDirSource(dir)
	var errs []error
	for _, f := range catalog.All() {
		data, err := src.Background(ctx, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, w, h, err := compositor.Inspect(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("frame %q: %w", f.ID, err))
			continue
		}
		if w != f.Width || h != f.Height {
			errs = append(errs, fmt.Errorf("frame %q: artwork is %dx%d, catalog says %dx%d", f.ID, w, h, f.Width, f.Height))
		}
	}
	return errors.Join(errs...)
}
