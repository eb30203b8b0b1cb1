package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/infrastructure/extractor/docx"
)

func newConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in.docx> <out.txt>",
		Short: "Convert a Word document to plain text, one paragraph per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := convertDocx(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d paragraphs to %s\n", n, args[1])
			return nil
		},
	}
}

func convertDocx(inPath, outPath string) (int, error) {
	f, err := os.Open(inPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", inPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", inPath, err)
	}
	paragraphs, err := docx.Paragraphs(f, info.Size())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", inPath, err)
	}

	text := strings.Join(paragraphs, "\n")
	if len(paragraphs) > 0 {
		text += "\n"
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", outPath, err)
	}
	return len(paragraphs), nil
}
