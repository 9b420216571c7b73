package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/planweave/planweave/internal/signing"
)

// runAdmin dispatches admin subcommands (gen-secret, sign, verify).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "gen-secret":
		return runAdminGenSecret()
	case "sign":
		return runAdminSign(args[1:])
	case "verify":
		return runAdminVerify(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: planweave admin <command> [options]

Commands:
  gen-secret   Generate a random signing secret
  sign         Sign a sub-plan envelope for delegation
  verify       Verify a signed envelope file
  help         Show this help message

Examples:
  planweave admin gen-secret
  planweave admin sign --plan-id p1 --sub-id 3 --steps steps.json --inputs '{"n":1}'
  planweave admin verify --file envelope.json
`)
}

func runAdminGenSecret() error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	fmt.Println(hex.EncodeToString(b))
	return nil
}

func runAdminSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	planID := fs.String("plan-id", "", "plan id (required)")
	subID := fs.Int("sub-id", 0, "sub-plan id within the plan")
	stepsFile := fs.String("steps", "", "path to the sub-plan steps JSON (required)")
	inputsJSON := fs.String("inputs", "", "run inputs as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *planID == "" || *stepsFile == "" {
		return fmt.Errorf("--plan-id and --steps are required")
	}

	steps, err := os.ReadFile(*stepsFile)
	if err != nil {
		return fmt.Errorf("read steps: %w", err)
	}

	var inputs map[string]any
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &inputs); err != nil {
			return fmt.Errorf("parse inputs: %w", err)
		}
	}

	secret, err := resolveSecret()
	if err != nil {
		return err
	}

	env := signing.Envelope{
		PlanID:  *planID,
		SubID:   *subID,
		SubPlan: json.RawMessage(steps),
		Inputs:  inputs,
	}
	sig, err := signing.Sign(&env, secret)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	env.Signature = sig

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func runAdminVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	file := fs.String("file", "", "path to the signed envelope JSON (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	var env signing.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}

	secret, err := resolveSecret()
	if err != nil {
		return err
	}

	if err := signing.Verify(&env, secret); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Println("signature valid")
	return nil
}

// resolveSecret reads the signing secret from the environment or, when
// unset, prompts for it without echoing.
func resolveSecret() (string, error) {
	if s := os.Getenv("PLANWEAVE_SIGNING_SECRET"); s != "" {
		return s, nil
	}
	return promptSecret("Signing secret: ")
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", fmt.Errorf("empty secret")
	}
	return string(b), nil
}
