package cli

import (
	"fmt"
	"strings"

	"stratum/pkg/value"
)

// Inspector renders composed configuration trees for the --cfg inspection
// mode and for multirun per-run output.
type Inspector struct{}

// NewInspector returns the standard inspector.
func NewInspector() *Inspector {
	return &Inspector{}
}

// WriteTree encodes root as YAML onto ctx.Output.
func (in *Inspector) WriteTree(ctx CommandContext, root *value.Value) error {
	out, err := value.EncodeValue(root)
	if err != nil {
		return err
	}
	_, err = ctx.Output.Write(out)
	return err
}

// WriteRun writes one multirun result: a header naming the run index and the
// concrete overrides that produced it, followed by the composed tree.
func (in *Inspector) WriteRun(ctx CommandContext, index int, overrides []string, root *value.Value) error {
	if _, err := fmt.Fprintf(ctx.Output, "[run %d] %s\n", index, strings.Join(overrides, " ")); err != nil {
		return err
	}
	return in.WriteTree(ctx, root)
}
