// Command tokengen mints a session token for a user ID. Useful for local
// development and for exercising the API without the account service.
//
// Usage:
//
//	tokengen -user 6f1c... [-secret dev-secret] [-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nestboard/messaging/internal/auth"
)

func main() {
	userFlag := flag.String("user", "", "user ID (UUID); generated when empty")
	secretFlag := flag.String("secret", "dev-secret", "JWT secret shared with the server")
	ttlFlag := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user ID: %v\n", err)
			os.Exit(1)
		}
		userID = parsed
	}

	token, err := auth.GenerateToken(userID, []byte(*secretFlag), *ttlFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user:  %s\n", userID)
	fmt.Printf("token: %s\n", token)
}
