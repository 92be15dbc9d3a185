package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zulandar/junction/internal/assignment"
)

// Notifier posts assignment notices to every configured adapter. It
// implements assignment.Notifier.
type Notifier struct {
	adapters []namedAdapter
	out      io.Writer
}

type namedAdapter struct {
	name string
	Adapter
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Adapters map[string]Adapter // keyed by platform name, e.g. "slack"
	Out      io.Writer          // defaults to os.Stdout
}

// NewNotifier creates a Notifier. At least one adapter is required.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("telegraph: at least one adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	n := &Notifier{out: out}
	for _, name := range sortedKeys(opts.Adapters) {
		n.adapters = append(n.adapters, namedAdapter{name: name, Adapter: opts.Adapters[name]})
	}
	return n, nil
}

// Connect connects every adapter. On failure the adapters already connected
// are closed again.
func (n *Notifier) Connect(ctx context.Context) error {
	for i, a := range n.adapters {
		if err := a.Connect(ctx); err != nil {
			for _, done := range n.adapters[:i] {
				done.Close()
			}
			return fmt.Errorf("telegraph: connect %s: %w", a.name, err)
		}
		fmt.Fprintf(n.out, "telegraph: %s connected\n", a.name)
	}
	return nil
}

// Notify formats the notice and sends it to every adapter. A failing
// adapter does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, notice assignment.Notice) error {
	msg := OutboundMessage{
		Text:   notice.Text(),
		Events: []FormattedEvent{FormatNotice(notice)},
	}
	var errs []error
	for _, a := range n.adapters {
		if err := a.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("telegraph: %s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (n *Notifier) Close() error {
	var errs []error
	for _, a := range n.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("telegraph: close %s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]Adapter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
