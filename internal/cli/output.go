package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer   io.Writer
	jsonMode bool

	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	bold    *color.Color
	dim     *color.Color
}

// NewOutput creates a new Output writing to the command's stdout.
func NewOutput(cmd *cobra.Command, colorEnabled bool) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	o := &Output{
		writer:   cmd.OutOrStdout(),
		jsonMode: jsonMode,
		success:  color.New(color.FgGreen),
		failure:  color.New(color.FgRed),
		warning:  color.New(color.FgYellow),
		info:     color.New(color.FgCyan),
		bold:     color.New(color.Bold),
		dim:      color.New(color.Faint),
	}
	if !colorEnabled || jsonMode {
		for _, c := range []*color.Color{o.success, o.failure, o.warning, o.info, o.bold, o.dim} {
			c.DisableColor()
		}
	}
	return o
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.writer
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.success.Fprintf(o.writer, format+"\n", args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.failure.Fprintf(o.writer, format+"\n", args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.warning.Fprintf(o.writer, format+"\n", args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.info.Fprintf(o.writer, format+"\n", args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.bold.Fprintf(o.writer, format+"\n", args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.dim.Fprintf(o.writer, format+"\n", args...)
}
