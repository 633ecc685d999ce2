package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/septivank/raven-tracer/internal/db"
	"github.com/septivank/raven-tracer/internal/validator"
	"go.uber.org/fx"
)

// deviceCommand is a one-shot registry operation requested on the command
// line. Rename holds MAC=NICK; an empty NICK clears the nickname.
type deviceCommand struct {
	List   bool
	Rename string
}

func (c deviceCommand) requested() bool {
	return c.List || c.Rename != ""
}

func parseRename(arg string) (string, *string, error) {
	mac, nick, ok := strings.Cut(arg, "=")
	if !ok {
		return "", nil, fmt.Errorf("rename expects MAC=NICK, got %q", arg)
	}
	mac = strings.TrimSpace(mac)
	if !validator.IsCanonicalMAC(mac) {
		return "", nil, fmt.Errorf("invalid MAC address format: %s", mac)
	}
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return mac, nil, nil
	}
	return mac, &nick, nil
}

// runDeviceCommand renames first so that a combined --rename --list shows
// the result
func runDeviceCommand(ctx context.Context, regs Registries, cmd deviceCommand, out io.Writer) error {
	if cmd.Rename != "" {
		mac, nick, err := parseRename(cmd.Rename)
		if err != nil {
			return err
		}

		kind := db.KindRaven
		err = regs.Ravens.Rename(ctx, mac, nick)
		if errors.Is(err, db.ErrDeviceNotFound) {
			kind = db.KindSmartMeter
			err = regs.Meters.Rename(ctx, mac, nick)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "renamed %s %s\n", kind, mac)
	}

	if cmd.List {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tMAC\tNICK")
		for _, r := range []struct {
			kind db.DeviceKind
			list func(context.Context) ([]db.Device, error)
		}{
			{db.KindRaven, regs.Ravens.List},
			{db.KindSmartMeter, regs.Meters.List},
		} {
			devices, err := r.list(ctx)
			if err != nil {
				return err
			}
			for _, d := range devices {
				nick := "-"
				if d.Nick != nil {
					nick = *d.Nick
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.kind, d.MACAddress, nick)
			}
		}
		return w.Flush()
	}

	return nil
}

// invokeDeviceCommand runs cmd as the last start hook, once the store is
// reachable
func invokeDeviceCommand(cmd deviceCommand, out io.Writer) func(fx.Lifecycle, Registries) {
	return func(lc fx.Lifecycle, regs Registries) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return runDeviceCommand(ctx, regs, cmd, out)
			},
		})
	}
}
