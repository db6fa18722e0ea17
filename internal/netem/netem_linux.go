//go:build linux

package netem

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/jittertrap/jittertrap/internal/logging"
)

var log = logging.L("netem")

// TCController shells out to `tc qdisc ... netem`, the standard
// operational tool for this; grounded on the teacher's exec.Command +
// GOOS-switch convention for shelling out to platform tools.
type TCController struct{}

func (TCController) Apply(ctx context.Context, p Params) error {
	args := []string{"qdisc", "replace", "dev", p.Iface, "root", "netem"}
	if p.DelayMs > 0 {
		args = append(args, "delay", fmt.Sprintf("%dms", p.DelayMs))
		if p.JitterMs > 0 {
			args = append(args, fmt.Sprintf("%dms", p.JitterMs))
		}
	}
	if p.LossPct > 0 {
		args = append(args, "loss", fmt.Sprintf("%d%%", p.LossPct))
	}

	cmd := exec.CommandContext(ctx, "tc", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Warn("tc qdisc replace failed", "iface", p.Iface, "error", err, "output", string(out))
		return fmt.Errorf("netem: tc qdisc replace: %w", err)
	}
	return nil
}

func (TCController) Clear(ctx context.Context, iface string) error {
	cmd := exec.CommandContext(ctx, "tc", "qdisc", "del", "dev", iface, "root", "netem")
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Warn("tc qdisc del failed", "iface", iface, "error", err, "output", string(out))
		return fmt.Errorf("netem: tc qdisc del: %w", err)
	}
	return nil
}
