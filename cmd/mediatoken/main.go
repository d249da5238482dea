// Command mediatoken prints an operator bearer token signed with the
// configured auth.jwt_secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal"
	"github.com/prappser/prappser_media/internal/middleware"
)

func main() {
	subject := flag.String("subject", "", "token subject, e.g. the operator's name")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}

	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	token, err := middleware.NewAuthMiddleware(config.Auth).IssueToken(*subject, middleware.RoleOperator, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Error issuing token")
	}
	fmt.Println(token)
}
