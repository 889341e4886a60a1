package helpers

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func formatNames(formats []OutputFormat) []string {
	return lo.Map(formats, func(f OutputFormat, _ int) string { return string(f) })
}

// AddFormatFlag registers -o/--format on cmd with shell completion of the
// supported names.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supported []OutputFormat) {
	names := formatNames(supported)
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(names, cobra.ShellCompDirectiveNoFileComp))
}

// ValidateFormat fails unless format is one of supported.
func ValidateFormat(format string, supported []OutputFormat) error {
	if lo.Contains(supported, OutputFormat(format)) {
		return nil
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(supported), ", "))
}

// Write formats data with the named format onto cmd's output.
func Write(cmd *cobra.Command, format string, data any) error {
	if err := ValidateFormat(format, SupportedFormats); err != nil {
		return err
	}
	f, err := NewFormatter(OutputFormat(format))
	if err != nil {
		return err
	}
	return f.Format(data, cmd.OutOrStdout())
}
