// Package main provides a CLI for provisioning the keys and secrets the
// server reads at startup.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"once/internal/token"
	"once/pkg/secrets"
)

func main() {
	signingCmd := flag.NewFlagSet("signing-key", flag.ExitOnError)
	signingOut := signingCmd.String("out", "", "Write the PEM key to this file instead of stdout")

	jwksCmd := flag.NewFlagSet("jwks", flag.ExitOnError)
	jwksKey := jwksCmd.String("key", "", "PKCS#8 PEM signing key")
	jwksKID := jwksCmd.String("kid", "once-1", "Key id published in the JWKS")

	secretCmd := flag.NewFlagSet("secret", flag.ExitOnError)

	hashCmd := flag.NewFlagSet("hash-secret", flag.ExitOnError)
	hashValue := hashCmd.String("secret", "", "Client secret to hash. Generated if empty.")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "signing-key":
		signingCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		err = generateSigningKey(*signingOut)
	case "jwks":
		jwksCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		err = printJWKS(*jwksKey, *jwksKID)
	case "secret":
		secretCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		err = printSecret()
	case "hash-secret":
		hashCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		err = hashSecret(*hashValue)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`keygen - Provision keys and secrets for the once server

Usage:
  keygen <command> [flags]

Commands:
  signing-key   Generate a P-256 ES256 signing key (PKCS#8 PEM)
  jwks          Print the public JWKS for a signing key
  secret        Generate a random secret for ONCE_CONSENT_SECRET or ONCE_SIGNING_SECRET
  hash-secret   Hash a client secret for the secret_hash field of clients.yaml

Examples:
  keygen signing-key -out signing.pem
  keygen jwks -key signing.pem -kid once-1
  keygen hash-secret -secret "s3cret"`)
}

func generateSigningKey(out string) error {
	pemKey, err := token.GenerateES256Key()
	if err != nil {
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(pemKey)
		return err
	}
	if err := os.WriteFile(out, pemKey, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote ES256 signing key to %s\n", out)
	return nil
}

func printJWKS(keyFile, kid string) error {
	if keyFile == "" {
		return fmt.Errorf("-key is required")
	}
	pemKey, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	signer, err := token.NewES256Signer(kid, pemKey)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(signer.PublicKeys())
}

func printSecret() error {
	secret, err := secrets.NewSigningKey()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func hashSecret(secret string) error {
	if secret == "" {
		generated, err := secrets.NewClientSecret()
		if err != nil {
			return err
		}
		secret = generated
		fmt.Fprintf(os.Stderr, "Generated client secret: %s\n", secret)
	}
	hash, err := secrets.HashClientSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
