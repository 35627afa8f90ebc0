package main

import (
	"encoding/json"
	"fmt"
	"os"

	"SRL-GEN/internal/processor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <in.docx> <out.docx>",
		Short: "Merge fragmented placeholders and fix brace typos",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := processor.ReadPackageFile(args[0])
			if err != nil {
				return err
			}
			report, err := processor.Repair(pkg)
			if err != nil {
				return err
			}
			for _, part := range report.Parts {
				c.log.Debug("Part repaired",
					zap.String("part", part.Part),
					zap.Int("placeholders_before", part.Before),
					zap.Int("placeholders_after", part.After),
					zap.Int("merged", part.Merged),
					zap.Int("normalized", part.Normalized))
			}
			if err := writePackage(args[1], pkg); err != nil {
				return err
			}
			if report.Changed() {
				fmt.Fprintf(cmd.OutOrStdout(), "repaired %s -> %s\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to repair, copied %s -> %s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func (c *cli) placeholdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "placeholders <in.docx>",
		Short: "List placeholders as they read after repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := processor.ReadPackageFile(args[0])
			if err != nil {
				return err
			}
			placeholders, err := processor.ExtractPlaceholders(pkg)
			if err != nil {
				return err
			}
			for _, name := range placeholders {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (c *cli) renderCmd() *cobra.Command {
	var sizeFlags map[string]string
	cmd := &cobra.Command{
		Use:   "render <in.docx> <data.json> <out.docx>",
		Short: "Fill a template with the values of a JSON object",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := processor.ReadPackageFile(args[0])
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read data file: %w", err)
			}
			var data map[string]any
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("failed to parse data file: %w", err)
			}
			sizes, err := parseImageSizes(sizeFlags)
			if err != nil {
				return err
			}
			c.log.Debug("Rendering", zap.String("template", args[0]), zap.Int("fields", len(data)))

			out, err := processor.Render(pkg, data, processor.DefaultImageResolver{Sizes: sizes})
			if err != nil {
				return err
			}
			if err := writePackage(args[2], out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rendered %s\n", args[2])
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&sizeFlags, "image-size", nil, "image size per tag in pixels, e.g. ttd=150x75")
	return cmd
}

// parseImageSizes reads tag=WIDTHxHEIGHT pairs.
func parseImageSizes(flags map[string]string) (map[string]processor.Size, error) {
	sizes := make(map[string]processor.Size, len(flags))
	for tag, value := range flags {
		var size processor.Size
		if _, err := fmt.Sscanf(value, "%dx%d", &size.Width, &size.Height); err != nil || size.Width <= 0 || size.Height <= 0 {
			return nil, fmt.Errorf("invalid image size %q for %s, want WIDTHxHEIGHT", value, tag)
		}
		sizes[tag] = size
	}
	return sizes, nil
}

func (c *cli) textCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text <in.docx>",
		Short: "Print the visible text, one paragraph per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := processor.ReadPackageFile(args[0])
			if err != nil {
				return err
			}
			text, err := processor.ExtractText(pkg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func writePackage(path string, pkg *processor.Package) error {
	data, err := pkg.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
