package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/client"
	"github.com/Mindburn-Labs/agent-registry/pkg/crypto"
)

const defaultURL = "http://localhost:8080"

func serverURL() string {
	if u := os.Getenv("AGENTREG_URL"); u != "" {
		return u
	}
	return defaultURL
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var outPath, masterPath, label string
	cmd.StringVar(&outPath, "out", "agent.key", "Path for the new key file")
	cmd.StringVar(&masterPath, "master", "", "Derive from this master key file instead of generating")
	cmd.StringVar(&label, "label", "", "Derivation label (required with --master)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		signer *crypto.Ed25519Signer
		err    error
	)
	if masterPath != "" {
		if label == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --label is required with --master")
			return 2
		}
		master, loadErr := crypto.LoadKeyFile(masterPath)
		if loadErr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", loadErr)
			return 1
		}
		signer, err = crypto.NewKeyRing(master).Derive(label)
	} else {
		signer, err = crypto.NewEd25519Signer()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := crypto.SaveKeyFile(outPath, signer); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	pk := signer.PublicKey()
	printJSON(stdout, map[string]string{
		"key_file":  outPath,
		"authority": pk.String(),
		"handle":    agent.DeriveHandle(pk).String(),
	})
	return 0
}

func runRegisterCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("register", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var keyPath, url, uri string
	var disclosure uint
	cmd.StringVar(&keyPath, "key", "agent.key", "Agent key file")
	cmd.StringVar(&url, "url", serverURL(), "Registry base URL")
	cmd.StringVar(&uri, "uri", "", "Capabilities URI")
	cmd.UintVar(&disclosure, "disclosure", 0, "Disclosure level (0-255)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if disclosure > 255 {
		_, _ = fmt.Fprintln(stderr, "Error: --disclosure must be between 0 and 255")
		return 2
	}

	c, err := signedClient(url, keyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := commandContext()
	defer cancel()

	resp, err := c.Register(ctx, uri, uint8(disclosure))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Register failed: %v\n", err)
		return exitCode(err)
	}
	printJSON(stdout, resp)
	return 0
}

func runRecordCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("record", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var keyPath, url, handleHex, refHex string
	var delta int64
	var retries int
	cmd.StringVar(&keyPath, "key", "agent.key", "Authority key file")
	cmd.StringVar(&url, "url", serverURL(), "Registry base URL")
	cmd.StringVar(&handleHex, "handle", "", "Agent handle (defaults to the key's own agent)")
	cmd.Int64Var(&delta, "delta", 0, "Signed score change")
	cmd.StringVar(&refHex, "ref", "", "Evidence reference, 32 bytes hex (default all zero)")
	cmd.IntVar(&retries, "retries", 3, "Attempts on write conflict")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var d agent.ReputationDelta
	d.ScoreChange = delta
	if refHex != "" {
		ref, err := agent.ParseReference(refHex)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		d.Reference = ref
	}

	c, err := signedClient(url, keyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	h := agent.DeriveHandle(c.Authority())
	if handleHex != "" {
		if h, err = agent.ParseHandle(handleHex); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	ctx, cancel := commandContext()
	defer cancel()

	var out any
	err = client.RetryOnConflict(ctx, retries, func(ctx context.Context) error {
		resp, err := c.RecordReputation(ctx, h, d)
		out = resp
		return err
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Record failed: %v\n", err)
		return exitCode(err)
	}
	printJSON(stdout, out)
	return 0
}

func runShowCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("show", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var url, handleHex, authorityHex string
	var events, table bool
	var limit int
	cmd.StringVar(&url, "url", serverURL(), "Registry base URL")
	cmd.StringVar(&handleHex, "handle", "", "Agent handle")
	cmd.StringVar(&authorityHex, "authority", "", "Authority public key (hex)")
	cmd.BoolVar(&events, "events", false, "Show audit history instead of the record")
	cmd.IntVar(&limit, "limit", 0, "Maximum events to show")
	cmd.BoolVar(&table, "table", false, "Render as a table instead of JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (handleHex == "") == (authorityHex == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --handle or --authority is required")
		return 2
	}

	var h agent.Handle
	if authorityHex != "" {
		pk, err := agent.ParsePublicKey(authorityHex)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		h = agent.DeriveHandle(pk)
	} else {
		var err error
		if h, err = agent.ParseHandle(handleHex); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	c := client.New(url)
	ctx, cancel := commandContext()
	defer cancel()

	if events {
		resp, err := c.Events(ctx, h, limit)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Show failed: %v\n", err)
			return exitCode(err)
		}
		if table {
			renderEvents(stdout, resp)
		} else {
			printJSON(stdout, resp)
		}
		return 0
	}

	resp, err := c.Get(ctx, h)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Show failed: %v\n", err)
		return exitCode(err)
	}
	if table {
		renderAgent(stdout, resp.Agent)
	} else {
		printJSON(stdout, resp)
	}
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var url string
	cmd.StringVar(&url, "url", serverURL(), "Registry base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := commandContext()
	defer cancel()

	c := client.New(url)
	if _, err := c.CheckCompatibility(ctx, ""); err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

func signedClient(url, keyPath string) (*client.Client, error) {
	signer, err := crypto.LoadKeyFile(keyPath)
	if err != nil {
		return nil, err
	}
	return client.New(url, client.WithSigner(signer)), nil
}

// exitCode distinguishes rejected requests (3) from transport failures (1).
func exitCode(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return 3
	}
	return 1
}
