// Command devtoken prints a signed access token for local testing against
// the pre-order API.  Production tokens are issued by the account service.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"github.com/iliyamo/harrys-tix/internal/config"
	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/utils"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	userID := flag.Uint64("user", 2, "user id to put in the sub claim")
	role := flag.String("role", model.RoleUser, "role claim (USER or ADMIN)")
	ttl := flag.Int("ttl", cfg.AccessTTLMin, "lifetime in minutes")
	flag.Parse()

	r := strings.ToUpper(*role)
	if r != model.RoleUser && r != model.RoleAdmin {
		log.Fatalf("invalid role %q", *role)
	}
	tok, err := utils.NewAccessToken(cfg.JWTSecret, *userID, r, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(tok.Token)
}
