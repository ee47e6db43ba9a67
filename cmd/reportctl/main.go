// Command reportctl manages a reporter identity, submits anonymous reports and
// runs admin membership changes against a report server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"anonreport/internal/client"
	"anonreport/internal/config"
	"anonreport/internal/identity"
	"anonreport/internal/logging"
	"anonreport/internal/member"
	"anonreport/internal/zk"

	"github.com/rs/zerolog"
)

const usage = `usage: reportctl <command> [flags]

commands:
  identity new|show   create or print the local identity
  upload              store report text, print its content ref
  submit              upload, prove and submit a report
  receipt             check a receipt with the server
  enroll              admin: enroll a commitment
  revoke              admin: revoke a commitment
`

func main() {
	_ = config.Load()
	log := logging.New(envOr("LOG_LEVEL", "warn"), "console")
	logging.RouteGnark(log)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "identity":
		err = runIdentity(args)
	case "upload":
		err = runUpload(ctx, args)
	case "submit":
		err = runSubmit(ctx, args, log)
	case "receipt":
		err = runReceipt(ctx, args)
	case "enroll":
		err = runEnroll(ctx, args)
	case "revoke":
		err = runRevoke(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "identity.yaml"
	}
	return filepath.Join(home, ".anonreport", "identity.yaml")
}

func defaultKeysCache() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".anonreport", "keys")
	}
	return filepath.Join(dir, "anonreport", "keys")
}

func serverFlag(fs *flag.FlagSet) *string {
	return fs.String("server", envOr("REPORT_SERVER", "http://localhost:8080"), "report server base URL")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func readText(path string) (string, error) {
	var b []byte
	var err error
	if path == "" || path == "-" {
		b, err = io.ReadAll(io.LimitReader(os.Stdin, config.MaxContentBytes+1))
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func runIdentity(args []string) error {
	if len(args) < 1 {
		return errors.New("identity: want new or show")
	}
	fs := flag.NewFlagSet("identity "+args[0], flag.ExitOnError)
	path := fs.String("file", defaultIdentityPath(), "identity file")
	force := fs.Bool("force", false, "overwrite an existing identity")
	_ = fs.Parse(args[1:])

	switch args[0] {
	case "new":
		if _, err := os.Stat(*path); err == nil && !*force {
			return fmt.Errorf("%s exists; pass -force to replace it (revoke the old commitment first)", *path)
		}
		id, err := identity.Create()
		if err != nil {
			return err
		}
		if err := id.Save(*path); err != nil {
			return err
		}
		return printJSON(map[string]any{"file": *path, "commitment": identity.CommitmentOf(id)})
	case "show":
		id, err := identity.Load(*path)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"file": *path, "commitment": identity.CommitmentOf(id)})
	default:
		return fmt.Errorf("identity: unknown subcommand %q", args[0])
	}
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	server := serverFlag(fs)
	file := fs.String("file", "-", "report text file, - for stdin")
	tags := fs.String("tags", "", "comma-separated tags")
	_ = fs.Parse(args)

	text, err := readText(*file)
	if err != nil {
		return err
	}
	up, err := client.New(*server, "").Upload(ctx, text, splitTags(*tags))
	if err != nil {
		return err
	}
	return printJSON(up)
}

func runSubmit(ctx context.Context, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := serverFlag(fs)
	idPath := fs.String("identity", defaultIdentityPath(), "identity file")
	file := fs.String("file", "-", "report text file, - for stdin")
	tags := fs.String("tags", "", "comma-separated tags")
	supersedes := fs.Int64("supersedes", -1, "id of a report this one corrects")
	cache := fs.String("keys-cache", defaultKeysCache(), "proving key cache directory")
	_ = fs.Parse(args)

	id, err := identity.Load(*idPath)
	if err != nil {
		return err
	}
	text, err := readText(*file)
	if err != nil {
		return err
	}
	var sup *uint64
	if *supersedes >= 0 {
		v := uint64(*supersedes)
		sup = &v
	}

	c := client.New(*server, "")
	up, err := c.Upload(ctx, text, splitTags(*tags))
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	keys, err := c.Keys(ctx, *cache)
	if err != nil {
		return err
	}
	gen := member.NewGenerator(zk.NewProver(keys.CS, keys.PK))

	attempts := 0
	res, err := c.SubmitFresh(ctx, func(ctx context.Context, st member.State) (member.Report, error) {
		if attempts++; attempts > 1 {
			log.Warn().Msg("membership root went stale, retrying")
		}
		log.Info().Uint64("epoch", st.Epoch).Msg("proving")
		return gen.Prove(ctx, id, st, up.ContentRef, splitTags(*tags), sup)
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runReceipt(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("receipt", flag.ExitOnError)
	server := serverFlag(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("receipt: want one receipt token")
	}
	res, err := client.New(*server, "").VerifyReceipt(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func commitmentArg(fs *flag.FlagSet, s string) (zk.Hash, error) {
	if s != "" {
		return zk.ParseHash(s)
	}
	if fs.NArg() == 1 {
		return zk.ParseHash(fs.Arg(0))
	}
	return zk.Hash{}, errors.New("missing commitment")
}

func runEnroll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	server := serverFlag(fs)
	key := fs.String("admin-key", os.Getenv("ADMIN_KEY"), "admin key")
	commitment := fs.String("commitment", "", "commitment to enroll")
	_ = fs.Parse(args)

	c, err := commitmentArg(fs, *commitment)
	if err != nil {
		return err
	}
	res, err := client.New(*server, *key).Enroll(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runRevoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	server := serverFlag(fs)
	key := fs.String("admin-key", os.Getenv("ADMIN_KEY"), "admin key")
	commitment := fs.String("commitment", "", "commitment to revoke")
	leaked := fs.Bool("leaked", false, "the secret is exposed; also invalidate older roots")
	_ = fs.Parse(args)

	c, err := commitmentArg(fs, *commitment)
	if err != nil {
		return err
	}
	res, err := client.New(*server, *key).Revoke(ctx, c, *leaked)
	if err != nil {
		return err
	}
	return printJSON(res)
}
