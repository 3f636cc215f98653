package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Output carries the streams and format shared by every command.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o Output) withDefaults() Output {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// write renders v as indented JSON or through text.
func (o Output) write(v any, text func(io.Writer)) error {
	if o.JSONOutput {
		enc := json.NewEncoder(o.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(o.Stdout)
	return nil
}

func (o Output) fail(prefix string, err error) int {
	fmt.Fprintf(o.Stderr, "%s: %v\n", prefix, err)
	return 1
}
