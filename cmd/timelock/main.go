// Command timelock demonstrates the engine against the drand quicknet
// beacon: encrypt a message to a future round, decrypt it once the round's
// signature is published (or with an explicitly supplied signature).
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"timelock"
	"timelock/internal/beacon"
)

const usageText = `timelock - encrypt messages to a future beacon round

Usage:
  timelock encrypt --round <n> [--public-key <hex>] [file]
  timelock encrypt --at <time> [--public-key <hex>] [file]
  timelock decrypt [--signature <hex>] [--round <n>] [file]
  timelock info

Options:
  --round <n>          target beacon round number
  --at <time>          RFC3339 unlock time (resolved to a round via the chain)
  --public-key <hex>   beacon public key (default: drand quicknet)
  --signature <hex>    round signature; fetched from quicknet when omitted
  --out <path>         output file (default: stdout)

encrypt reads the message from a file or stdin and writes the binary
ciphertext. decrypt does the reverse; it refuses rounds that are still in
the future.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usageText)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "encrypt":
		handleEncrypt(os.Args[2:])
	case "decrypt":
		handleDecrypt(os.Args[2:])
	case "info":
		handleInfo(os.Args[2:])
	case "help", "--help", "-h":
		fmt.Println(usageText)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usageText)
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// readInput reads the payload from the single positional argument, or stdin
// when no path is given.
func readInput(args []string) []byte {
	switch len(args) {
	case 0:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal("cannot read stdin: %v", err)
		}
		return data
	case 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal("cannot read file: %v", err)
		}
		return data
	default:
		fatal("too many arguments")
		return nil
	}
}

func writeOutput(path string, data []byte) {
	if path == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			fatal("cannot write output: %v", err)
		}
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		fatal("cannot write output: %v", err)
	}
}

func handleEncrypt(args []string) {
	flags := flag.NewFlagSet("encrypt", flag.ExitOnError)
	round := flags.Uint64("round", 0, "target beacon round")
	at := flags.String("at", "", "RFC3339 unlock time")
	publicKey := flags.String("public-key", beacon.QuicknetPublicKeyHex, "beacon public key (hex)")
	out := flags.String("out", "", "output file")
	flags.Parse(args)

	if *round == 0 && *at == "" {
		fatal("either --round or --at is required")
	}

	targetRound := *round
	if *at != "" {
		unlockTime, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fatal("invalid --at time, expected RFC3339")
		}
		client := beacon.NewQuicknetClient(nil)
		targetRound, err = client.RoundAt(context.Background(), unlockTime.UTC())
		if err != nil {
			fatal("cannot resolve round for %s: %v", *at, err)
		}
	}

	plaintext := readInput(flags.Args())

	lib := timelock.New()
	defer lib.Close()

	identity := make([]byte, timelock.IdentitySize)
	if _, err := lib.CreateIdentity(targetRound, identity); err != nil {
		fatal("cannot derive identity: %v", err)
	}

	secretKey, err := timelock.GenerateSecretKey()
	if err != nil {
		fatal("%v", err)
	}

	h, err := lib.Encrypt(plaintext, identity, *publicKey, secretKey)
	if err != nil {
		fatal("encryption failed: %v", err)
	}
	defer lib.FreeCiphertext(h)

	raw, err := lib.CiphertextBytes(h)
	if err != nil {
		fatal("cannot serialize ciphertext: %v", err)
	}

	writeOutput(*out, raw)
	fmt.Fprintf(os.Stderr, "sealed %d bytes to round %d (%d bytes ciphertext)\n", len(plaintext), targetRound, len(raw))
}

func handleDecrypt(args []string) {
	flags := flag.NewFlagSet("decrypt", flag.ExitOnError)
	signature := flags.String("signature", "", "round signature (hex)")
	round := flags.Uint64("round", 0, "round to fetch the signature for")
	out := flags.String("out", "", "output file")
	flags.Parse(args)

	raw := readInput(flags.Args())

	sigHex := *signature
	if sigHex == "" {
		if *round == 0 {
			fatal("either --signature or --round is required")
		}
		client := beacon.NewQuicknetClient(nil)

		latest, err := client.LatestRound(context.Background())
		if err != nil {
			fatal("cannot reach beacon: %v", err)
		}
		if latest < *round {
			fatal("round %d is still in the future (latest is %d)", *round, latest)
		}

		sigHex, err = client.Signature(context.Background(), *round)
		if err != nil {
			if errors.Is(err, beacon.ErrRoundNotAvailable) {
				fatal("round %d is not available yet", *round)
			}
			fatal("cannot fetch signature: %v", err)
		}
	} else if _, err := hex.DecodeString(sigHex); err != nil {
		fatal("--signature is not valid hex")
	}

	lib := timelock.New()
	defer lib.Close()

	h, err := lib.ImportCiphertext(raw)
	if err != nil {
		fatal("invalid ciphertext: %v", err)
	}
	defer lib.FreeCiphertext(h)

	// First call with an empty buffer reports the required size.
	n, err := lib.Decrypt(h, sigHex, nil)
	if err != nil && !errors.Is(err, timelock.ErrBufferTooSmall) {
		fatal("decryption failed: %v", err)
	}

	plaintext := make([]byte, n)
	if n > 0 || err != nil {
		if n, err = lib.Decrypt(h, sigHex, plaintext); err != nil {
			fatal("decryption failed: %v", err)
		}
	}

	writeOutput(*out, plaintext[:n])
}

func handleInfo(args []string) {
	flags := flag.NewFlagSet("info", flag.ExitOnError)
	flags.Parse(args)

	if len(flags.Args()) > 0 {
		fatal("info takes no arguments")
	}

	client := beacon.NewQuicknetClient(nil)

	info, err := client.FetchInfo(context.Background())
	if err != nil {
		fatal("cannot reach beacon: %v", err)
	}
	latest, err := client.LatestRound(context.Background())
	if err != nil {
		fatal("cannot fetch latest round: %v", err)
	}

	fmt.Printf("beacon:       %s\n", info.BeaconID)
	fmt.Printf("scheme:       %s\n", info.SchemeID)
	fmt.Printf("chain hash:   %s\n", info.Hash)
	fmt.Printf("period:       %ds\n", info.Period)
	fmt.Printf("genesis:      %s\n", time.Unix(info.GenesisTime, 0).UTC().Format(time.RFC3339))
	fmt.Printf("latest round: %d\n", latest)
	fmt.Printf("engine:       v%s\n", timelock.Version)
}
