package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

// Issues a bearer token for a participant, signed with JWT_SECRET.
func main() {
	viewerID := flag.String("viewer", "", "Participant id carried as the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if err := domain.ValidateParticipant(*viewerID); err != nil {
		log.Fatal(err)
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	token, err := auth.GenerateToken(secret, *viewerID, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
