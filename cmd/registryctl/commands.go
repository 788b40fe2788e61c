package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/device"
	"github.com/nerrad567/gray-logic-registry/internal/instant"
)

// subFlags builds a flag set for a subcommand.
func subFlags(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("registryctl "+name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseSub(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError("%v", err)
	}
	return nil
}

// ident renders a token for output: its fingerprint unless --reveal is set.
func (e *env) ident(token string) string {
	if e.reveal {
		return token
	}
	return auth.Fingerprint(token)
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) table() *tabwriter.Writer {
	return tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// ─── init ──────────────────────────────────────────────────────────

func runInit(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return usageError("init takes no arguments")
	}

	created, err := e.hub.Store.Init(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(created))
	for _, n := range created {
		names = append(names, string(n))
	}

	if e.json {
		return e.printJSON(map[string][]string{"created": names})
	}
	if len(names) == 0 {
		fmt.Fprintln(e.out, "all documents present")
		return nil
	}
	fmt.Fprintf(e.out, "created: %s\n", strings.Join(names, ", "))
	return nil
}

// ─── tokens ────────────────────────────────────────────────────────

type tokenView struct {
	Token           string    `json:"token"`
	PermissionLevel int       `json:"permission_level"`
	ValidUntil      time.Time `json:"valid_until"`
}

func runIssue(ctx context.Context, e *env, args []string) error {
	fs := subFlags("issue", e.errOut)
	id := fs.String("id", "", "token id (default: a random UUID)")
	level := fs.Int("level", auth.NoAccess, fmt.Sprintf("permission level (0-%d)", auth.MaxIssuableLevel))
	if err := parseSub(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError("issue takes no positional arguments")
	}

	tokenID := *id
	if tokenID == "" {
		tokenID = auth.GenerateTokenID()
	}

	token, err := e.hub.Tokens.Issue(ctx, tokenID, *level)
	if err != nil {
		return err
	}

	// The raw id is printed: the operator has to hand it to the device.
	view := tokenView{Token: tokenID, PermissionLevel: token.PermissionLevel, ValidUntil: token.ValidUntil}
	if e.json {
		return e.printJSON(view)
	}
	fmt.Fprintf(e.out, "token:       %s\nlevel:       %d\nvalid until: %s\n",
		view.Token, view.PermissionLevel, formatTime(view.ValidUntil))
	return nil
}

func runTokens(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return usageError("tokens takes no arguments")
	}

	tokens, err := e.hub.Tokens.List(ctx)
	if err != nil {
		return err
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ValidUntil.Before(tokens[j].ValidUntil) })

	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, tokenView{Token: e.ident(t.ID), PermissionLevel: t.PermissionLevel, ValidUntil: t.ValidUntil})
	}

	if e.json {
		return e.printJSON(views)
	}
	tw := e.table()
	fmt.Fprintln(tw, "TOKEN\tLEVEL\tVALID UNTIL")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", v.Token, v.PermissionLevel, formatTime(v.ValidUntil))
	}
	return tw.Flush()
}

// ─── devices ───────────────────────────────────────────────────────

type deviceView struct {
	Token string `json:"token"`
	device.Device
}

func runPromote(ctx context.Context, e *env, args []string) error {
	fs := subFlags("promote", e.errOut)
	token := fs.String("token", "", "pending token to promote (required)")
	name := fs.String("name", "", "device name")
	kind := fs.String("kind", "", "client kind: app or web (required)")
	ip := fs.String("ip", "", "device IP address")
	connection := fs.String("connection", "", "connection descriptor")
	level := fs.Int("level", auth.NoAccess, fmt.Sprintf("permission level (0-%d)", auth.MaxIssuableLevel))
	if err := parseSub(fs, args); err != nil {
		return err
	}
	if *token == "" || *kind == "" {
		return usageError("promote requires --token and --kind")
	}

	k, err := device.ParseKind(*kind)
	if err != nil {
		return usageError("%v", err)
	}

	d, err := e.hub.Devices.Promote(ctx, device.PromoteRequest{
		Token:           *token,
		IP:              *ip,
		Name:            *name,
		Kind:            k,
		Connection:      *connection,
		PermissionLevel: *level,
	})
	if err != nil {
		return err
	}

	if e.json {
		return e.printJSON(deviceView{Token: e.ident(d.Token), Device: d})
	}
	fmt.Fprintf(e.out, "promoted %s (%s, %s, level %d)\n", e.ident(d.Token), d.Name, d.Kind, d.PermissionLevel)
	return nil
}

func runDevices(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return usageError("devices takes no arguments")
	}

	devices, err := e.hub.Devices.List(ctx)
	if err != nil {
		return err
	}

	if e.json {
		views := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			views = append(views, deviceView{Token: e.ident(d.Token), Device: d})
		}
		return e.printJSON(views)
	}

	tw := e.table()
	fmt.Fprintln(tw, "TOKEN\tNAME\tKIND\tSTATUS\tLAST ACTIVE\tLEVEL\tIP")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ident(d.Token), d.Name, d.Kind, d.Status, formatTime(d.LastActive), d.PermissionLevel, d.IP)
	}
	return tw.Flush()
}

func runRemove(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return usageError("remove takes exactly one TOKEN")
	}

	found, err := e.hub.Devices.Remove(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(e.out, "no device %s; cleared any leftover properties and instants\n", e.ident(args[0]))
		return nil
	}
	fmt.Fprintf(e.out, "removed %s\n", e.ident(args[0]))
	return nil
}

func runSweep(ctx context.Context, e *env, args []string) error {
	if len(args) > 0 {
		return usageError("sweep takes no arguments")
	}

	changed, err := e.hub.Devices.SweepLiveness(ctx)
	if err != nil {
		return err
	}
	purged, err := e.hub.Tokens.PurgeExpired(ctx)
	if err != nil {
		return err
	}

	if e.json {
		tokens := make([]string, 0, len(changed))
		for _, d := range changed {
			tokens = append(tokens, e.ident(d.Token))
		}
		return e.printJSON(map[string]any{"changed": tokens, "tokens_expired": purged})
	}
	for _, d := range changed {
		fmt.Fprintf(e.out, "%s is now %s\n", e.ident(d.Token), d.Status)
	}
	fmt.Fprintf(e.out, "%d device(s) changed, %d token(s) expired\n", len(changed), purged)
	return nil
}

// ─── properties ────────────────────────────────────────────────────

func runProps(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usageError("props needs a subcommand: get, set, all, find")
	}

	switch sub, rest := args[0], args[1:]; sub {
	case "get":
		if len(rest) != 2 {
			return usageError("props get TOKEN KEY")
		}
		value, ok, err := e.hub.Properties.Get(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("property %q is not set on %s", rest[1], e.ident(rest[0]))
		}
		return e.printJSON(value)

	case "set":
		if len(rest) != 3 {
			return usageError("props set TOKEN KEY JSON")
		}
		if err := e.hub.Properties.Set(ctx, rest[0], rest[1], parseValue(rest[2])); err != nil {
			return err
		}
		fmt.Fprintf(e.out, "set %s on %s\n", rest[1], e.ident(rest[0]))
		return nil

	case "all":
		if len(rest) != 1 {
			return usageError("props all TOKEN")
		}
		bag, err := e.hub.Properties.All(ctx, rest[0])
		if err != nil {
			return err
		}
		return e.printJSON(bag)

	case "find":
		if len(rest) != 1 {
			return usageError("props find KEY")
		}
		values, err := e.hub.Properties.GetAll(ctx, rest[0])
		if err != nil {
			return err
		}
		byIdent := make(map[string]any, len(values))
		for token, v := range values {
			byIdent[e.ident(token)] = v
		}
		return e.printJSON(byIdent)

	default:
		return usageError("unknown props subcommand %q", sub)
	}
}

// parseValue reads a property value as JSON, falling back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// ─── instants ──────────────────────────────────────────────────────

type instantView struct {
	Recipient string `json:"recipient"`
	instant.Instant
}

func runInstants(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usageError("instants needs a subcommand: scan, delete")
	}

	switch sub, rest := args[0], args[1:]; sub {
	case "scan":
		fs := subFlags("instants scan", e.errOut)
		recipient := fs.String("recipient", "", "only this recipient's queue")
		typ := fs.String("type", "", "only instants of this type")
		if err := parseSub(fs, rest); err != nil {
			return err
		}
		return scanInstants(ctx, e, instant.Filter{Recipient: *recipient, Type: *typ})

	case "delete":
		if len(rest) != 2 {
			return usageError("instants delete RECIPIENT TYPE")
		}
		deleted, err := e.hub.Instants.Delete(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("no %q instant queued for %s", rest[1], e.ident(rest[0]))
		}
		fmt.Fprintf(e.out, "deleted newest %q instant for %s\n", rest[1], e.ident(rest[0]))
		return nil

	default:
		return usageError("unknown instants subcommand %q", sub)
	}
}

func scanInstants(ctx context.Context, e *env, f instant.Filter) error {
	queues, err := e.hub.Instants.Scan(ctx, f)
	if err != nil {
		return err
	}

	recipients := make([]string, 0, len(queues))
	for r := range queues {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	var views []instantView
	for _, r := range recipients {
		for _, in := range queues[r] {
			views = append(views, instantView{Recipient: e.ident(r), Instant: in})
		}
	}

	if e.json {
		if views == nil {
			views = []instantView{}
		}
		return e.printJSON(views)
	}

	tw := e.table()
	fmt.Fprintln(tw, "RECIPIENT\tTYPE\tNAME\tASKED\tANSWERED\tOPTION")
	for _, v := range views {
		option := "-"
		if v.Answered {
			b, _ := json.Marshal(v.Answer.Option)
			option = string(b)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			v.Recipient, v.Type, v.Name, formatTime(time.Unix(v.Timestamp, 0)), v.Answered, option)
	}
	return tw.Flush()
}
