package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/tjfontaine/testernest-go/internal/mockserver"
)

func main() {
	prefix := flag.String("prefix", "pk_test_", "public key prefix")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: keygen [--prefix pk_test_] [public-key]")
		fmt.Fprintln(os.Stderr, "Generates (or hashes) a public key and a signing secret for testernest.yaml")
		flag.PrintDefaults()
	}
	flag.Parse()

	publicKey := flag.Arg(0)
	if publicKey == "" {
		key, err := mockserver.GenerateKey(*prefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		publicKey = key
	}
	secret, err := mockserver.GenerateKey("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	keyHash := mockserver.HashKey(publicKey)

	fmt.Printf("Public Key: %s\n", publicKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your testernest.yaml:")
	fmt.Printf("sdk:\n")
	fmt.Printf("  public_key: \"%s\"\n", publicKey)
	fmt.Printf("mock:\n")
	fmt.Printf("  signing_secret: \"%s\"\n", secret)
	fmt.Printf("  public_key_hashes:\n")
	fmt.Printf("    - \"%s\"\n", keyHash)
}
