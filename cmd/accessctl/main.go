// Command accessctl inspects the capability catalog and role templates and
// evaluates ad-hoc decisions against the demo plant directory.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/policy"
	"plantgate.org/internal/seed"
	"plantgate.org/internal/session"
)

const usage = `usage: accessctl <command> [flags]

commands:
  catalog [--domain D]                 list capabilities
  roles [--file roles.yaml]            list role templates
  users                                list demo users
  check <username> <permission>        evaluate a permission for a demo user
        [--mode M] [--area A] [--object ID] [--requester USER_ID]
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "accessctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}
	cat := auth.DefaultCatalog()
	switch args[0] {
	case "catalog":
		return runCatalog(cat, args[1:], out)
	case "roles":
		return runRoles(cat, args[1:], out)
	case "users":
		return runUsers(ctx, cat, out)
	case "check":
		return runCheck(ctx, cat, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runCatalog(cat *auth.Catalog, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("catalog", pflag.ContinueOnError)
	domain := fs.String("domain", "", "only list this domain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PERMISSION\tCLASS\tMODES\tAREA\tOBJECT\n")
	for _, c := range cat.All() {
		if *domain != "" && string(c.Domain) != *domain {
			continue
		}
		modes := make([]string, 0, len(c.Modes))
		for _, m := range c.Modes {
			modes = append(modes, string(m))
		}
		area := ""
		if c.AreaScoped {
			area = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Permission, c.Class, strings.Join(modes, ","), area, c.ObjectKind)
	}
	fmt.Fprintf(tw, "\ncatalog version %s\n", cat.Version())
	return tw.Flush()
}

func runRoles(cat *auth.Catalog, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("roles", pflag.ContinueOnError)
	file := fs.String("file", "", "role template YAML (default: built-in templates)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		roles *auth.RoleProfiles
		err   error
	)
	if *file != "" {
		roles, err = auth.LoadRoleProfilesFile(*file, cat)
	} else {
		roles, err = auth.DefaultRoleProfiles(cat)
	}
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ROLE\tMODE\tPERMISSIONS\n")
	for _, r := range roles.Roles() {
		p, _ := roles.Profile(r)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r, p.DefaultMode, strings.Join(p.Permissions.Strings(), " "))
	}
	return tw.Flush()
}

func runUsers(ctx context.Context, cat *auth.Catalog, out io.Writer) error {
	users, err := seed.Directory(ctx, cat)
	if err != nil {
		return err
	}
	list, err := users.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tUSERNAME\tROLE\tMODE\tAREAS\tPERMISSIONS\n")
	for _, u := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", u.ID, u.Username, u.Role, u.DefaultMode, strings.Join(u.PlantAreas, ","), len(u.Permissions))
	}
	return tw.Flush()
}

type checkResult struct {
	User       string   `json:"user"`
	Permission string   `json:"permission"`
	Mode       string   `json:"mode"`
	Outcome    string   `json:"outcome"`
	Reason     string   `json:"reason,omitempty"`
	Redact     []string `json:"redact,omitempty"`
}

func runCheck(ctx context.Context, cat *auth.Catalog, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	var (
		mode      = fs.String("mode", "", "switch the session to this mode first")
		area      = fs.String("area", "", "plant area of the target object")
		object    = fs.String("object", "", "target object id")
		requester = fs.String("requester", "", "user id that requested the object")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("check needs <username> <permission>")
	}

	users, err := seed.Directory(ctx, cat)
	if err != nil {
		return err
	}
	u, err := users.FindByUsername(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("user %q: %w", fs.Arg(0), err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	signer, err := session.NewSigner(secret, "accessctl")
	if err != nil {
		return err
	}
	mgr, err := session.NewManager(session.NewInMemoryStore(), users, cat, signer)
	if err != nil {
		return err
	}
	s, err := mgr.Issue(ctx, u)
	if err != nil {
		return err
	}
	if *mode != "" {
		m, err := auth.ParseMode(*mode)
		if err != nil {
			return err
		}
		if s, err = mgr.SwitchMode(ctx, s, m); err != nil {
			return err
		}
	}

	d := policy.New(cat).Evaluate(ctx, s, auth.Permission(fs.Arg(1)), &policy.ObjectContext{
		ObjectID:    *object,
		RequesterID: *requester,
		Area:        *area,
	})
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(checkResult{
		User:       u.Username,
		Permission: string(d.Permission),
		Mode:       string(d.Mode),
		Outcome:    string(d.Outcome),
		Reason:     string(d.Reason),
		Redact:     d.Redact,
	})
}
