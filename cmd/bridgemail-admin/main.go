// Command bridgemail-admin provisions and inspects a bridgemail store.
// Mailbox management happens out of band of the wire protocols; this binary
// is that band.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bridgemail/bridgemail/internal/store"
)

// maxMailboxID matches the POP3 USER argument cap so every provisioned
// mailbox stays reachable over the wire.
const maxMailboxID = 40

const usageText = `usage: bridgemail-admin <subcommand> [flags] <path-to-store>

subcommands:
  init            create the store file and schema
  add-mailbox     provision a mailbox (-id, -auth)
  list-mailboxes  print every mailbox with its message count
  list-messages   print message ids and sizes for one mailbox (-id)
`

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(1)
	}

	var err error
	switch sub, args := os.Args[1], os.Args[2:]; sub {
	case "init":
		err = runInit(args)
	case "add-mailbox":
		err = runAddMailbox(args)
	case "list-mailboxes":
		err = runListMailboxes(args)
	case "list-messages":
		err = runListMessages(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n%s", sub, usageText)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "bridgemail-admin:", err)
		os.Exit(1)
	}
}

// storePath extracts the single positional store path after flag parsing.
func storePath(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one store path argument, got %d", fs.NArg())
	}
	return fs.Arg(0), nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("bridgemail-admin init", flag.ExitOnError)
	force := fs.Bool("f", false, "Create missing tables even if some already exist")
	fs.Parse(args)
	path, err := storePath(fs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Create(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Init(ctx, *force); err != nil {
		if errors.Is(err, store.ErrSchemaExists) {
			return fmt.Errorf("schema already present in %s (use -f to add missing tables)", path)
		}
		return err
	}
	fmt.Printf("initialized %s\n", path)
	return nil
}

func runAddMailbox(args []string) error {
	fs := flag.NewFlagSet("bridgemail-admin add-mailbox", flag.ExitOnError)
	id := fs.String("id", "", "Mailbox id (required)")
	auth := fs.String("auth", "", "Mailbox auth secret (required)")
	fs.Parse(args)
	path, err := storePath(fs)
	if err != nil {
		return err
	}
	if *id == "" || *auth == "" {
		return errors.New("both -id and -auth are required")
	}
	if len(*id) > maxMailboxID {
		return fmt.Errorf("mailbox id %q exceeds %d characters", *id, maxMailboxID)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateMailbox(ctx, *id, *auth); err != nil {
		return err
	}
	fmt.Printf("created mailbox %s\n", *id)
	return nil
}

func runListMailboxes(args []string) error {
	fs := flag.NewFlagSet("bridgemail-admin list-mailboxes", flag.ExitOnError)
	fs.Parse(args)
	path, err := storePath(fs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	boxes, err := st.Mailboxes(ctx)
	if err != nil {
		return err
	}
	for _, b := range boxes {
		fmt.Printf("%s\t%d\n", b.ID, b.Messages)
	}
	return nil
}

func runListMessages(args []string) error {
	fs := flag.NewFlagSet("bridgemail-admin list-messages", flag.ExitOnError)
	id := fs.String("id", "", "Mailbox id (required)")
	fs.Parse(args)
	path, err := storePath(fs)
	if err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	msgs, err := st.ListMessages(ctx, *id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%d\t%d\n", m.ID, m.Size)
	}
	return nil
}
