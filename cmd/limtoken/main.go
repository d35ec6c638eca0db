// limtoken hashes an API token for LIMINAL_API_TOKEN_HASH.
//
// Usage:
//
//	go run ./cmd/limtoken <token>
//
// Prints the Argon2id-encoded hash. Deployments that set
// LIMINAL_API_TOKEN_HASH instead of LIMINAL_API_TOKEN keep the plaintext
// secret out of the environment; producers still send the plaintext token as
// the bearer credential.
package main

import (
	"fmt"
	"os"

	"github.com/liminalqa/liminal/internal/auth"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: limtoken <token>")
		os.Exit(1)
	}

	encoded, err := auth.HashToken(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(encoded)
}
