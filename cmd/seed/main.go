// Command seed mirrors user profiles into the delivery store and prints a
// token for each of them, for local testing.
//
//	seed -db ./data -secret $JWT_SECRET alice=Alice bob=Bob:bob@example.com
package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Secret signing the printed tokens")
	ttl := flag.Duration("ttl", 24*time.Hour, "Validity of the printed tokens")
	flag.Parse()

	profiles, err := parseProfiles(flag.Args())
	if err == nil {
		err = seed(*dbPath, *secret, *ttl, profiles)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Render("seed: "+err.Error()))
		os.Exit(1)
	}
}

// parseProfiles reads id=Name[:email] arguments.
func parseProfiles(args []string) ([]domain.UserProfile, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one id=Name argument")
	}
	profiles := make([]domain.UserProfile, 0, len(args))
	for _, arg := range args {
		id, rest, found := strings.Cut(arg, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("invalid profile %q, expected id=Name[:email]", arg)
		}
		name, email, _ := strings.Cut(rest, ":")
		profiles = append(profiles, domain.UserProfile{ID: domain.UserID(id), Name: name, Email: email})
	}
	return profiles, nil
}

func seed(dbPath, secret string, ttl time.Duration, profiles []domain.UserProfile) error {
	if secret == "" {
		return fmt.Errorf("a signing secret is required (-secret or JWT_SECRET)")
	}
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	users := storage.NewUserRepository(db)
	resolver := auth.NewTokenResolver(secret)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"User", "Name", "Token"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, profile := range profiles {
		if err := users.PutProfile(context.Background(), profile); err != nil {
			return fmt.Errorf("profile %s: %w", profile.ID, err)
		}
		token, err := resolver.GenerateToken(profile.ID, ttl)
		if err != nil {
			return fmt.Errorf("token for %s: %w", profile.ID, err)
		}
		table.Append([]string{profile.ID.String(), profile.Name, token})
	}
	table.Render()
	fmt.Println(color.Green.Render(fmt.Sprintf("%d profiles seeded into %s", len(profiles), dbPath)))
	return nil
}
